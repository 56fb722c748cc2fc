// Package resolver implements the non-blocking DNS stub resolver of chatd.
//
// A Resolver is owned by one goroutine. It never blocks: queries are written
// to a Transport, replies are processed one datagram per OnSocketReadable
// call, and retries happen from Maintenance.
package resolver

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/chatd/chatd/cache"
	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/dnsutil"
	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// ErrWouldBlock is returned by Transport.ReadFrom when no datagram is waiting.
var ErrWouldBlock = os.ErrDeadlineExceeded

// Transport is the UDP socket of the resolver. ReadFrom must not block.
type Transport interface {
	WriteTo(p []byte, addr netip.AddrPort) error
	ReadFrom(p []byte) (int, netip.AddrPort, error)
}

const maxPacketSize = 4096

// Resolver type
type Resolver struct {
	ns    *config.NameServers
	tr    Transport
	clock clockwork.Clock
	idgen func() uint16

	cache   *cache.Cache
	pending map[uint16]*request

	maxPending int
	policy     config.ExhaustionPolicy
	maxSleep   time.Duration

	buf   []byte
	stats Stats
}

// Snapshot is a diagnostic dump of the resolver state.
type Snapshot struct {
	Entries  []cache.Entry `json:"entries"`
	Cache    cache.Stats   `json:"cache"`
	Resolver Stats         `json:"resolver"`
	Pending  int           `json:"pending"`
}

// New return a resolver sending on tr with the nameservers of cfg. A nil
// clock means the real clock.
func New(cfg *config.Config, tr Transport, clock clockwork.Clock) (*Resolver, error) {
	ns, err := cfg.NameServers()
	if err != nil {
		return nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	r := &Resolver{
		ns:         ns,
		tr:         tr,
		clock:      clock,
		idgen:      dns.Id,
		cache:      cache.New(cfg.CacheSize, cfg.TTLFloor.Duration),
		pending:    make(map[uint16]*request),
		maxPending: cfg.MaxPending,
		policy:     policy,
		maxSleep:   cfg.MaxSleep.Duration,
		buf:        make([]byte, maxPacketSize),
	}

	if r.maxSleep <= 0 {
		r.maxSleep = config.DefaultMaxSleep
	}

	return r, nil
}

// SetNameServers replaces the nameserver configuration. Pending queries keep
// matching replies from the servers they were sent to.
func (r *Resolver) SetNameServers(ns *config.NameServers) {
	if ns == nil || len(ns.Servers) == 0 {
		return
	}
	r.ns = ns
}

// NameServers returns the nameserver configuration in use.
func (r *Resolver) NameServers() *config.NameServers {
	return r.ns
}

// ResolveForward looks up the addresses of name. It reports true when the
// answer came from the cache, in which case requester was already called.
func (r *Resolver) ResolveForward(name string, requester Requester) bool {
	return r.forward(name, dns.TypeA, requester)
}

// ResolveForward6 is ResolveForward for IPv6 addresses.
func (r *Resolver) ResolveForward6(name string, requester Requester) bool {
	return r.forward(name, dns.TypeAAAA, requester)
}

func (r *Resolver) forward(name string, qtype uint16, requester Requester) bool {
	candidates := r.ns.Candidates(name)
	if len(candidates) == 0 {
		r.count(evFailed)
		requester.Failed(lookupError(name, ErrBadTarget, "empty name"))
		return false
	}

	now := r.clock.Now()
	for _, c := range candidates {
		if e := r.cache.LookupByName(c, now); e != nil && hasFamily(e.AddrsOf(c), qtype) {
			resolverLookups.WithLabelValues(Forward.String(), "cache").Inc()
			requester.Resolved(cachedResult(e, familyOf(e.AddrsOf(c), qtype)))
			return true
		}
	}

	r.submit(&request{
		kind:       Forward,
		name:       candidates[0],
		qtype:      qtype,
		target:     name,
		candidates: candidates[1:],
		owner:      requester,
	})

	return false
}

// ResolveReverse looks up the name of addr. The name is only trusted, and
// only cached, when a forward lookup of it returns addr again. It reports
// true when the answer came from the cache.
func (r *Resolver) ResolveReverse(addr netip.Addr, requester Requester) bool {
	addr = addr.Unmap()

	if e := r.cache.LookupVerified(addr, r.clock.Now()); e != nil {
		resolverLookups.WithLabelValues(Reverse.String(), "cache").Inc()
		requester.Resolved(cachedResult(e, []netip.Addr{addr}))
		return true
	}

	name, err := dnsutil.ReverseName(addr)
	if err != nil {
		r.count(evFailed)
		requester.Failed(lookupError(addr.String(), ErrBadTarget, err.Error()))
		return false
	}

	r.submit(&request{
		kind:   Reverse,
		name:   name,
		qtype:  dns.TypePTR,
		addr:   addr,
		target: addr.String(),
		owner:  requester,
	})

	return false
}

// OnSocketReadable reads and processes one datagram. It reports false when
// nothing was waiting.
func (r *Resolver) OnSocketReadable() bool {
	n, from, err := r.tr.ReadFrom(r.buf)
	if err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			zlog.Debug("Failed to read DNS reply", "error", err.Error())
			r.count(evError)
		}
		return false
	}

	r.count(evReply)
	r.handle(r.buf[:n], from)

	return true
}

func (r *Resolver) handle(b []byte, from netip.AddrPort) {
	h, err := dnsutil.DecodeHeader(b)
	if err != nil || !h.Response || h.Opcode != dns.OpcodeQuery {
		zlog.Debug("Dropped malformed DNS reply", "from", from.String(), "size", len(b))
		r.count(evMalformed)
		return
	}

	req := r.correlate(h.ID, from)
	if req == nil {
		zlog.Debug("Dropped unmatched DNS reply", "from", from.String(), "id", h.ID)
		r.count(evUnmatched)
		return
	}

	ans, err := dnsutil.DecodeAnswers(b, h, req.question())
	if err != nil {
		zlog.Debug("Dropped malformed DNS reply", "from", from.String(), "query", req.question().String(), "error", err.Error())
		r.count(evMalformed)
		return
	}

	if h.Truncated && !r.ns.Has(config.OptIgnTC) {
		r.count(evStrange)
		r.retry(req, ErrStrange, "truncated reply")
		return
	}

	switch h.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		if r.advance(req) {
			return
		}
		r.retry(req, ErrNotFound, "NXDOMAIN")
		return
	case dns.RcodeServerFailure:
		r.retry(req, ErrServerFailure, "SERVFAIL")
		return
	default:
		r.fail(req, lookupError(req.target, ErrRefused, "rcode "+dns.RcodeToString[h.Rcode]))
		return
	}

	v := r.validate(req, ans)

	switch v.outcome {
	case answered:
		r.answer(req, v)
	case nodata:
		r.fail(req, lookupError(req.target, ErrNoData, v.reason))
	case strange:
		r.count(evStrange)
		if v.suspect {
			r.suspect(req, lookupError(req.target, ErrStrange, v.reason))
		}
		r.retry(req, ErrStrange, v.reason)
	case malicious:
		r.count(evMalicious)
		err := lookupError(req.target, ErrMalicious, v.reason)
		r.suspect(req, err)
		r.fail(req, err)
	}
}

// answer completes req with a validated answer.
func (r *Resolver) answer(req *request, v verdict) {
	r.remove(req)
	r.count(evAnswered)

	if req.kind == Reverse {
		r.startCrossCheck(req, v)
		return
	}

	res := &Result{Name: v.name, Aliases: v.aliases, Addrs: v.addrs, TTL: v.ttl}

	// corroborating lookups are cached only once they match
	if _, ok := req.owner.(*crossCheck); !ok {
		r.cache.Insert(cache.Record{
			Name:    res.Name,
			Aliases: res.Aliases,
			Addrs:   res.Addrs,
			TTL:     res.TTL,
		}, r.clock.Now())
	}

	req.owner.Resolved(res)
}

// startCrossCheck starts the forward lookup of the name a PTR answer returned.
func (r *Resolver) startCrossCheck(req *request, v verdict) {
	cc := &crossCheck{
		r:       r,
		owner:   req.owner,
		addr:    req.addr,
		name:    v.name,
		aliases: v.aliases,
		ttl:     v.ttl,
	}

	now := r.clock.Now()
	if e := r.cache.LookupByName(v.name, now); e != nil && slices.Contains(e.AddrsOf(v.name), req.addr) {
		r.corroborate(cc, e.AddrsOf(v.name), min(v.ttl, e.Expires.Sub(now)))
		return
	}

	qtype := uint16(dns.TypeA)
	if req.addr.Is6() {
		qtype = dns.TypeAAAA
	}

	r.submit(&request{
		kind:   Forward,
		name:   dns.Fqdn(v.name),
		qtype:  qtype,
		target: v.name,
		owner:  cc,
	})
}

// corroborate finishes a reverse lookup once the forward addresses of its
// name are known. Only the queried address survives into the cache.
func (r *Resolver) corroborate(cc *crossCheck, addrs []netip.Addr, ttl time.Duration) {
	if !intersect(addrs, cc.addr) {
		r.count(evUncorroborated)

		err := lookupError(cc.addr.String(), ErrNotCorroborated, fmt.Sprintf("%s does not resolve back", cc.name))
		r.notifySuspect(cc.owner, cc.addr.String(), err)
		cc.owner.Failed(err)
		return
	}

	verified := []netip.Addr{cc.addr}

	r.cache.Insert(cache.Record{
		Name:     cc.name,
		Aliases:  cc.aliases,
		Addrs:    verified,
		Verified: verified,
		TTL:      ttl,
	}, r.clock.Now())

	cc.owner.Resolved(&Result{Name: cc.name, Aliases: cc.aliases, Addrs: verified, TTL: ttl})
}

func (r *Resolver) suspect(req *request, err error) {
	r.notifySuspect(req.owner, req.target, err)
}

func (r *Resolver) notifySuspect(owner Requester, target string, err error) {
	zlog.Warn("Suspect DNS answer", "target", target, "error", err.Error())

	if s, ok := rootOwner(owner).(Suspecter); ok {
		s.Suspect(err)
	}
}

// Maintenance retries or fails timed out queries and drops expired cache
// entries. It returns when it wants to be called next.
func (r *Resolver) Maintenance(now time.Time) time.Time {
	r.tick(now)

	if n := r.cache.Expire(now); n > 0 {
		zlog.Debug("Expired host cache entries", "count", n)
	}

	return r.NextWake(now)
}

// NextWake returns the earliest pending deadline or cache expiry, capped at
// the maximum sleep.
func (r *Resolver) NextWake(now time.Time) time.Time {
	next := now.Add(r.maxSleep)

	for _, req := range r.pending {
		if d := req.deadline(); d.Before(next) {
			next = d
		}
	}

	if e, ok := r.cache.NextExpiry(); ok && e.Before(next) {
		next = e
	}

	if next.Before(now) {
		next = now
	}

	return next
}

// Flush empties the cache.
func (r *Resolver) Flush() {
	r.cache.Flush()
}

// Cache returns the host cache.
func (r *Resolver) Cache() *cache.Cache {
	return r.cache
}

// Stats returns a copy of the counters.
func (r *Resolver) Stats() Stats {
	return r.stats
}

// Snapshot returns the cache contents and counters.
func (r *Resolver) Snapshot() Snapshot {
	return Snapshot{
		Entries:  r.cache.Entries(),
		Cache:    r.cache.Stats(),
		Resolver: r.stats,
		Pending:  len(r.pending),
	}
}

func (r *Resolver) count(e event) {
	r.stats.add(e)
	resolverEvents.WithLabelValues(eventNames[e]).Inc()
}

func cachedResult(e *cache.Entry, addrs []netip.Addr) *Result {
	return &Result{
		Name:    e.Name,
		Aliases: append([]string(nil), e.Aliases...),
		Addrs:   addrs,
		TTL:     e.TTL,
		Cached:  true,
	}
}

func hasFamily(addrs []netip.Addr, qtype uint16) bool {
	return len(familyOf(addrs, qtype)) > 0
}

func familyOf(addrs []netip.Addr, qtype uint16) []netip.Addr {
	var out []netip.Addr
	for _, a := range addrs {
		if a.Is4() == (qtype == dns.TypeA) {
			out = append(out, a)
		}
	}
	return out
}
