package resolver

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/dnsutil"
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// Kind is the kind of a lookup.
type Kind int

const (
	// Forward looks up the addresses of a name.
	Forward Kind = iota
	// Reverse looks up the name of an address.
	Reverse
)

func (k Kind) String() string {
	if k == Reverse {
		return "reverse"
	}
	return "forward"
}

// maxIDs is the size of the transaction id space.
const maxIDs = 1 << 16

// request is a pending query.
type request struct {
	id    uint16
	kind  Kind
	name  string
	qtype uint16

	// addr is the address a reverse lookup asks for.
	addr netip.Addr
	// target is what the requester asked for, used in errors.
	target string
	// candidates are the names left to try after name.
	candidates []string

	sent    time.Time
	timeout time.Duration
	retries int
	sends   int
	servers []netip.AddrPort

	owner Requester
}

func (req *request) deadline() time.Time {
	return req.sent.Add(req.timeout)
}

func (req *request) question() dnsutil.Question {
	return dnsutil.Question{Name: req.name, Qtype: req.qtype, Qclass: dns.ClassINET}
}

// submit registers req and sends its first query. The requester is told
// about a failure before submit returns.
func (r *Resolver) submit(req *request) {
	if (r.maxPending > 0 && len(r.pending) >= r.maxPending) || len(r.pending) >= maxIDs {
		err := lookupError(req.target, ErrExhausted, fmt.Sprintf("%d pending", len(r.pending)))
		if r.policy == config.ExhaustAbort {
			panic(err)
		}

		zlog.Warn("Pending lookup limit reached", "target", req.target, "pending", len(r.pending))
		r.count(evFailed)
		req.owner.Failed(err)
		return
	}

	req.id = r.newID()
	req.timeout = r.ns.Timeout
	req.retries = r.ns.Retries

	r.pending[req.id] = req
	resolverPending.Set(float64(len(r.pending)))

	r.count(evRequest)
	resolverLookups.WithLabelValues(req.kind.String(), "query").Inc()

	r.send(req)
}

// newID returns a random transaction id not used by a pending query. The
// caller makes sure the id space is not full.
func (r *Resolver) newID() uint16 {
	id := r.idgen()
	for range maxIDs {
		if _, ok := r.pending[id]; !ok {
			return id
		}
		id++
	}
	panic("resolver: transaction id space exhausted")
}

// send transmits req to as many nameservers as it has been sent times, or
// only the first one with the primary option.
func (r *Resolver) send(req *request) {
	msg, err := dnsutil.EncodeQuery(req.id, req.name, dns.ClassINET, req.qtype, r.ns.Has(config.OptRecurse))
	if err != nil {
		r.fail(req, lookupError(req.target, ErrBadTarget, err.Error()))
		return
	}

	req.sends++
	req.sent = r.clock.Now()

	n := min(len(r.ns.Servers), req.sends)
	if r.ns.Has(config.OptPrimary) {
		n = 1
	}

	for _, server := range r.ns.Servers[:n] {
		server = netip.AddrPortFrom(server.Addr().Unmap(), server.Port())

		if err := r.tr.WriteTo(msg, server); err != nil {
			zlog.Debug("Failed to send DNS query", "server", server.String(), "query", req.question().String(), "error", err.Error())
			r.count(evError)
			continue
		}

		if !slices.Contains(req.servers, server) {
			req.servers = append(req.servers, server)
		}
	}
}

// resend sends req again. Callers account for the retry.
func (r *Resolver) resend(req *request) {
	r.count(evResend)
	r.send(req)
}

// retry consumes one retry of req and resends it with a doubled timeout, or
// fails it with cause when the budget is spent.
func (r *Resolver) retry(req *request, cause error, reason string) {
	req.retries--
	if req.retries <= 0 {
		r.fail(req, lookupError(req.target, cause, reason))
		return
	}

	req.timeout *= 2

	zlog.Debug("Retrying DNS query", "query", req.question().String(), "reason", reason, "retries", req.retries)

	r.resend(req)
}

// advance moves req to its next search candidate with a fresh budget and
// transaction id. It reports false when no candidate is left.
func (r *Resolver) advance(req *request) bool {
	if len(req.candidates) == 0 {
		return false
	}

	// allocated before the old id is freed so late replies cannot match,
	// unless the old id is the last free one
	if len(r.pending) >= maxIDs {
		delete(r.pending, req.id)
	}
	id := r.newID()
	delete(r.pending, req.id)

	req.name, req.candidates = req.candidates[0], req.candidates[1:]
	req.id = id
	req.timeout = r.ns.Timeout
	req.retries = r.ns.Retries
	req.sends = 0
	req.servers = nil

	r.pending[req.id] = req

	r.count(evRequest)
	r.send(req)

	return true
}

// tick handles every pending query whose deadline is not after now.
func (r *Resolver) tick(now time.Time) {
	var due []*request
	for _, req := range r.pending {
		if !now.Before(req.deadline()) {
			due = append(due, req)
		}
	}
	slices.SortFunc(due, func(a, b *request) int { return a.deadline().Compare(b.deadline()) })

	for _, req := range due {
		// an earlier callback may have cancelled it
		if r.pending[req.id] != req {
			continue
		}

		r.count(evTimeout)

		req.retries--
		if req.retries <= 0 {
			r.fail(req, lookupError(req.target, ErrTimeout, fmt.Sprintf("%d attempts", req.sends)))
			continue
		}

		req.timeout *= 2
		r.resend(req)
	}
}

// correlate returns the pending query with id that was sent to from.
func (r *Resolver) correlate(id uint16, from netip.AddrPort) *request {
	req := r.pending[id]
	if req == nil {
		return nil
	}

	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	if !slices.Contains(req.servers, from) {
		return nil
	}

	return req
}

// remove drops req from the pending set.
func (r *Resolver) remove(req *request) {
	if r.pending[req.id] == req {
		delete(r.pending, req.id)
		resolverPending.Set(float64(len(r.pending)))
	}
}

// fail removes req and reports err to its requester.
func (r *Resolver) fail(req *request, err *LookupError) {
	r.remove(req)
	r.count(evFailed)

	zlog.Debug("DNS lookup failed", "target", req.target, "error", err.Error())

	req.owner.Failed(err)
}

// Cancel forgets every pending lookup of requester, including forward lookups
// started to corroborate its reverse lookups, without notifying it. It
// returns the number of queries dropped.
func (r *Resolver) Cancel(requester Requester) int {
	n := 0

	for id, req := range r.pending {
		if !owns(req.owner, requester) {
			continue
		}

		delete(r.pending, id)
		r.count(evCancelled)
		n++
	}

	resolverPending.Set(float64(len(r.pending)))

	return n
}

// Pending returns the number of pending queries.
func (r *Resolver) Pending() int {
	return len(r.pending)
}
