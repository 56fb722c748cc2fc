package cache

import (
	"net/netip"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultTTLFloor is the shortest lifetime of a cached record.
const DefaultTTLFloor = 600 * time.Second

type removal int

const (
	removeEvict removal = iota
	removeExpire
	removeFlush
)

var removalNames = [...]string{"evict", "expire", "flush"}

// Stats holds the cache counters.
type Stats struct {
	Adds      uint64 `json:"adds"`
	Merges    uint64 `json:"merges"`
	Deletes   uint64 `json:"deletes"`
	Expires   uint64 `json:"expires"`
	Evictions uint64 `json:"evictions"`
	AddrHits  uint64 `json:"addr_hits"`
	NameHits  uint64 `json:"name_hits"`
	Misses    uint64 `json:"misses"`
}

// Cache is a size-bounded, expiring host record cache indexed by address and
// by name. It is not safe for concurrent use; the resolver owns it.
type Cache struct {
	lru    *simplelru.LRU[uint64, *Entry]
	byAddr map[netip.Addr]*Entry
	byName map[uint64]*Entry

	maxSize int
	floor   time.Duration
	seq     uint64
	reason  removal
	hooks   []func(*Entry)

	stats Stats
}

// New returns a new cache holding at most size entries. Records live at
// least floor, DefaultTTLFloor when floor is zero.
func New(size int, floor time.Duration) *Cache {
	if size < 1 {
		size = 1
	}
	if floor <= 0 {
		floor = DefaultTTLFloor
	}

	c := &Cache{
		byAddr:  make(map[netip.Addr]*Entry),
		byName:  make(map[uint64]*Entry),
		maxSize: size,
		floor:   floor,
	}

	// NewLRU only fails for a size below one
	c.lru, _ = simplelru.NewLRU[uint64, *Entry](size, c.onRemove)

	return c
}

// OnRemove registers fn to run for every entry leaving the cache, before it
// is dropped. Holders of *Entry values use it to clear their references.
func (c *Cache) OnRemove(fn func(*Entry)) {
	c.hooks = append(c.hooks, fn)
}

// LookupByAddress returns the entry holding addr and marks it most recently
// used. Entries past their expiry are removed and reported as a miss.
func (c *Cache) LookupByAddress(addr netip.Addr, now time.Time) *Entry {
	e := c.live(c.byAddr[addr.Unmap()], now)
	if e == nil {
		return nil
	}

	c.stats.AddrHits++
	cacheHits.WithLabelValues("addr").Inc()

	return e
}

// LookupVerified returns the entry holding addr only when addr is verified
// for the entry name. An unverified entry counts as a miss and keeps its
// LRU position.
func (c *Cache) LookupVerified(addr netip.Addr, now time.Time) *Entry {
	addr = addr.Unmap()

	e := c.byAddr[addr]
	if e != nil && now.Before(e.Expires) && !e.IsVerified(addr) {
		c.miss()
		return nil
	}

	return c.LookupByAddress(addr, now)
}

// LookupByName returns the entry whose name or alias is name and marks it
// most recently used.
func (c *Cache) LookupByName(name string, now time.Time) *Entry {
	e := c.live(c.byName[Key(name)], now)
	if e == nil {
		return nil
	}

	c.stats.NameHits++
	cacheHits.WithLabelValues("name").Inc()

	return e
}

func (c *Cache) live(e *Entry, now time.Time) *Entry {
	if e == nil {
		c.miss()
		return nil
	}

	if !now.Before(e.Expires) {
		c.remove(e, removeExpire)
		c.miss()
		return nil
	}

	c.lru.Get(e.id)

	return e
}

func (c *Cache) miss() {
	c.stats.Misses++
	cacheMisses.Inc()
}

// Insert adds rec to the cache. A record sharing an address with an existing
// entry is merged into it: addresses and aliases are unioned, the expiry and
// LRU position are left alone. Otherwise a new entry is created at the head
// of the LRU order, evicting the tail when the cache is full. Records without
// addresses are not cached and nil is returned.
func (c *Cache) Insert(rec Record, now time.Time) *Entry {
	addrs := addAddrs(nil, rec.Addrs...)
	if len(addrs) == 0 {
		return nil
	}

	for _, a := range addrs {
		e := c.byAddr[a]
		if e == nil {
			continue
		}

		if !now.Before(e.Expires) {
			c.remove(e, removeExpire)
			continue
		}

		c.merge(e, rec, addrs)
		return e
	}

	ttl := max(rec.TTL, c.floor)

	c.seq++
	e := &Entry{
		Name:     rec.Name,
		Aliases:  addNames(nil, rec.Aliases...),
		Addrs:    addrs,
		Verified: addAddrs(nil, rec.Verified...),
		TTL:      ttl,
		Expires:  now.Add(ttl),
		owned:    slices.Clone(addrs),
		id:       c.seq,
	}
	e.Aliases = slices.DeleteFunc(e.Aliases, func(a string) bool { return equalName(a, e.Name) })
	e.chain = slices.Clone(e.Aliases)

	c.index(e)

	c.reason = removeEvict
	c.lru.Add(e.id, e)

	c.stats.Adds++
	cacheAdds.WithLabelValues("new").Inc()

	return e
}

func (c *Cache) merge(e *Entry, rec Record, addrs []netip.Addr) {
	e.Addrs = addAddrs(e.Addrs, addrs...)

	own := equalName(e.Name, rec.Name)
	if own {
		e.Verified = addAddrs(e.Verified, rec.Verified...)
		e.owned = addAddrs(e.owned, addrs...)
	} else {
		// a verified address is only trusted for the name that verified it
		e.Aliases = addNames(e.Aliases, rec.Name)
	}

	for _, a := range rec.Aliases {
		if equalName(a, e.Name) {
			continue
		}
		e.Aliases = addNames(e.Aliases, a)
		if own {
			e.chain = addNames(e.chain, a)
		}
	}

	c.index(e)

	c.stats.Merges++
	cacheAdds.WithLabelValues("merge").Inc()
}

// index points unclaimed address and name slots at e.
func (c *Cache) index(e *Entry) {
	for _, a := range e.Addrs {
		if c.byAddr[a] == nil {
			c.byAddr[a] = e
		}
	}

	if e.Name != "" {
		c.byName[Key(e.Name)] = e
	}
	for _, n := range e.Aliases {
		k := Key(n)
		if c.byName[k] == nil {
			c.byName[k] = e
		}
	}
}

func (c *Cache) unindex(e *Entry) {
	for _, a := range e.Addrs {
		if c.byAddr[a] == e {
			delete(c.byAddr, a)
		}
	}

	for _, n := range append([]string{e.Name}, e.Aliases...) {
		k := Key(n)
		if c.byName[k] == e {
			delete(c.byName, k)
		}
	}
}

func (c *Cache) remove(e *Entry, reason removal) {
	c.reason = reason
	c.lru.Remove(e.id)
	c.reason = removeEvict
}

// onRemove is the LRU eviction callback; every removal goes through it.
func (c *Cache) onRemove(_ uint64, e *Entry) {
	for _, fn := range c.hooks {
		fn(e)
	}

	c.unindex(e)

	switch c.reason {
	case removeExpire:
		c.stats.Expires++
	case removeEvict:
		c.stats.Evictions++
	}
	c.stats.Deletes++
	cacheRemovals.WithLabelValues(removalNames[c.reason]).Inc()
}

// Expire removes every entry whose expiry is not after now and returns how
// many were removed.
func (c *Cache) Expire(now time.Time) int {
	n := 0

	for _, id := range c.lru.Keys() {
		e, ok := c.lru.Peek(id)
		if !ok || now.Before(e.Expires) {
			continue
		}

		c.remove(e, removeExpire)
		n++
	}

	return n
}

// Flush empties the cache.
func (c *Cache) Flush() {
	c.reason = removeFlush
	c.lru.Purge()
	c.reason = removeEvict
}

// NextExpiry returns the earliest expiry of all entries.
func (c *Cache) NextExpiry() (time.Time, bool) {
	var next time.Time

	for _, e := range c.lru.Values() {
		if next.IsZero() || e.Expires.Before(next) {
			next = e.Expires
		}
	}

	return next, !next.IsZero()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Cap returns the maximum number of entries.
func (c *Cache) Cap() int {
	return c.maxSize
}

// Entries returns copies of all entries, most recently used first.
func (c *Cache) Entries() []Entry {
	values := c.lru.Values()

	out := make([]Entry, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i].clone())
	}

	return out
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	return c.stats
}
