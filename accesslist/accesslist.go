// Package accesslist decides which client addresses may connect.
package accesslist

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/chatd/chatd/config"
	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// AccessList type
type AccessList struct {
	mu sync.RWMutex

	// an empty allow list admits everyone
	allow  cidranger.Ranger
	nallow int

	bans   cidranger.Ranger
	banned []netip.Prefix
}

// New return accesslist
func New(cfg *config.Config) *AccessList {
	a := &AccessList{
		allow: cidranger.NewPCTrieRanger(),
		bans:  cidranger.NewPCTrieRanger(),
	}

	for _, cidr := range cfg.AccessList {
		p, err := ParsePrefix(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		if err := a.allow.Insert(cidranger.NewBasicRangerEntry(ipNet(p))); err != nil {
			zlog.Error("Access list insert failed", "cidr", cidr, "error", err.Error())
			continue
		}
		a.nallow++
	}

	for _, cidr := range cfg.Bans {
		if err := a.Ban(cidr); err != nil {
			zlog.Error("Ban list parse cidr failed", "cidr", cidr, "error", err.Error())
		}
	}

	return a
}

// Allowed reports whether addr is on the allow list and not banned.
func (a *AccessList) Allowed(addr netip.Addr) bool {
	ip := net.IP(addr.Unmap().AsSlice())

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.nallow > 0 {
		if ok, _ := a.allow.Contains(ip); !ok {
			return false
		}
	}

	banned, _ := a.bans.Contains(ip)

	return !banned
}

// Ban adds an address or network to the ban list.
func (a *AccessList) Ban(cidr string) error {
	p, err := ParsePrefix(cidr)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if slices.Contains(a.banned, p) {
		return nil
	}

	if err := a.bans.Insert(cidranger.NewBasicRangerEntry(ipNet(p))); err != nil {
		return err
	}
	a.banned = append(a.banned, p)

	return nil
}

// Unban removes a network added with Ban. It reports whether it was banned.
func (a *AccessList) Unban(cidr string) (bool, error) {
	p, err := ParsePrefix(cidr)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	i := slices.Index(a.banned, p)
	if i < 0 {
		return false, nil
	}

	if _, err := a.bans.Remove(ipNet(p)); err != nil {
		return false, err
	}
	a.banned = slices.Delete(a.banned, i, i+1)

	return true, nil
}

// Bans returns the banned networks.
func (a *AccessList) Bans() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.banned))
	for _, p := range a.banned {
		out = append(out, p.String())
	}

	return out
}

// ParsePrefix parses a network in CIDR notation or a single address.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if p.Addr().Is4In6() {
			return netip.Prefix{}, fmt.Errorf("mapped address in %q", s)
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()

	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func ipNet(p netip.Prefix) net.IPNet {
	return net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}
