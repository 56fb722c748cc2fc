package cache

import (
	"net/netip"
	"slices"
	"strings"
	"time"
)

// Record is a validated resolution result offered to the cache.
type Record struct {
	Name    string
	Aliases []string
	Addrs   []netip.Addr

	// Verified lists the addresses whose reverse lookup produced Name and
	// whose forward lookup of Name confirmed them.
	Verified []netip.Addr

	TTL time.Duration
}

// Entry is a cached host record. Entries are owned by the cache and must
// be treated as read-only; they must not be used after a remove hook ran
// for them.
type Entry struct {
	Name     string
	Aliases  []string
	Addrs    []netip.Addr
	Verified []netip.Addr
	TTL      time.Duration
	Expires  time.Time

	// owned holds the addresses answered for Name or one of the chain
	// aliases. Addresses merged in under another name are left out.
	owned []netip.Addr
	chain []string

	id uint64
}

// HasAddr reports whether addr belongs to the entry.
func (e *Entry) HasAddr(addr netip.Addr) bool {
	return slices.Contains(e.Addrs, addr.Unmap())
}

// AddrsOf returns the addresses an answer for name produced, when name is
// the entry name or an alias from one of its own CNAME chains. Aliases
// adopted from a merge with another name return nil.
func (e *Entry) AddrsOf(name string) []netip.Addr {
	if !equalName(e.Name, name) && !slices.ContainsFunc(e.chain, func(a string) bool { return equalName(a, name) }) {
		return nil
	}
	return e.owned
}

// IsVerified reports whether addr was confirmed by a reverse and forward
// lookup of the entry name.
func (e *Entry) IsVerified(addr netip.Addr) bool {
	return slices.Contains(e.Verified, addr.Unmap())
}

// HasName reports whether name is the entry name or one of its aliases.
func (e *Entry) HasName(name string) bool {
	if equalName(e.Name, name) {
		return true
	}
	return slices.ContainsFunc(e.Aliases, func(a string) bool { return equalName(a, name) })
}

func (e *Entry) clone() Entry {
	return Entry{
		Name:     e.Name,
		Aliases:  slices.Clone(e.Aliases),
		Addrs:    slices.Clone(e.Addrs),
		Verified: slices.Clone(e.Verified),
		TTL:      e.TTL,
		Expires:  e.Expires,
		owned:    slices.Clone(e.owned),
		chain:    slices.Clone(e.chain),
	}
}

func equalName(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

// addAddrs appends addresses not already present and returns the result.
func addAddrs(set []netip.Addr, addrs ...netip.Addr) []netip.Addr {
	for _, a := range addrs {
		a = a.Unmap()
		if !a.IsValid() || slices.Contains(set, a) {
			continue
		}
		set = append(set, a)
	}
	return set
}

// addNames appends names not already present, ignoring case.
func addNames(set []string, names ...string) []string {
	for _, n := range names {
		if n == "" || slices.ContainsFunc(set, func(s string) bool { return equalName(s, n) }) {
			continue
		}
		set = append(set, n)
	}
	return set
}
