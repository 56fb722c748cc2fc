package resolver

import (
	"net/netip"
	"slices"
	"time"
)

// Requester receives the outcome of a lookup. Exactly one of its methods is
// called per lookup, on the goroutine that owns the resolver, unless the
// lookup is cancelled first. Implementations must be comparable, in practice
// a pointer.
type Requester interface {
	Resolved(res *Result)
	Failed(err error)
}

// Suspecter is implemented by requesters that want to know when a nameserver
// sent an answer that looks forged. It is called before Failed or Resolved.
type Suspecter interface {
	Suspect(err error)
}

// Result is a successful lookup.
type Result struct {
	Name    string
	Aliases []string
	Addrs   []netip.Addr
	TTL     time.Duration

	// Cached is set when the result came from the cache.
	Cached bool
}

// crossCheck is the requester of the forward lookup that corroborates a PTR
// answer on behalf of the reverse lookup owner.
type crossCheck struct {
	r *Resolver

	owner   Requester
	addr    netip.Addr
	name    string
	aliases []string
	ttl     time.Duration
}

func (c *crossCheck) Resolved(res *Result) {
	c.r.corroborate(c, res.Addrs, min(c.ttl, res.TTL))
}

func (c *crossCheck) Failed(err error) {
	c.owner.Failed(err)
}

// owns reports whether requester q is owner or a cross-check started for it.
func owns(q, owner Requester) bool {
	if q == owner {
		return true
	}
	if cc, ok := q.(*crossCheck); ok {
		return cc.owner == owner
	}
	return false
}

// rootOwner returns the requester a lookup is ultimately performed for.
func rootOwner(q Requester) Requester {
	if cc, ok := q.(*crossCheck); ok {
		return cc.owner
	}
	return q
}

func intersect(addrs []netip.Addr, want netip.Addr) bool {
	return slices.ContainsFunc(addrs, func(a netip.Addr) bool { return a.Unmap() == want })
}
