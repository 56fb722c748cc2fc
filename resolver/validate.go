package resolver

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/chatd/chatd/dnsutil"
	"github.com/miekg/dns"
)

// maxChain is the longest CNAME chain followed in one answer.
const maxChain = 8

type outcome int

const (
	answered outcome = iota
	strange
	malicious
	nodata
)

// verdict is the result of checking one answer against its pending query.
type verdict struct {
	outcome outcome
	reason  string
	// suspect is set when the answer looks forged rather than stale.
	suspect bool

	name    string
	aliases []string
	addrs   []netip.Addr
	ttl     time.Duration
}

func strangeVerdict(suspect bool, format string, args ...any) verdict {
	return verdict{outcome: strange, suspect: suspect, reason: fmt.Sprintf(format, args...)}
}

func maliciousVerdict(format string, args ...any) verdict {
	return verdict{outcome: malicious, suspect: true, reason: fmt.Sprintf(format, args...)}
}

// chain is the set of names acceptable as record owners while one answer is
// processed: the question name followed by the CNAME targets reached from it.
type chain []string

func (c chain) has(name string) bool {
	return slices.ContainsFunc(c, func(n string) bool { return dnsutil.EqualName(n, name) })
}

// canonical returns the last name of the chain.
func (c chain) canonical() string {
	return c[len(c)-1]
}

// follow builds the chain for qname from the CNAME records of ans. Every
// CNAME must carry a parsable target.
func follow(qname string, ans *dnsutil.Answers) (chain, *verdict) {
	type link struct{ owner, target string }

	var links []link

	for i := range ans.Records {
		rr := &ans.Records[i]
		if rr.Type != dns.TypeCNAME {
			continue
		}

		target, err := ans.Target(rr)
		if err != nil {
			v := maliciousVerdict("bad CNAME rdata for %s: %v", rr.Name, err)
			return nil, &v
		}
		links = append(links, link{rr.Name, target})
	}

	c := chain{qname}

	for grown := true; grown; {
		grown = false

		for _, l := range links {
			if !c.has(l.owner) || c.has(l.target) {
				continue
			}

			if len(c) > maxChain {
				v := strangeVerdict(false, "CNAME chain longer than %d", maxChain)
				return nil, &v
			}

			c = append(c, l.target)
			grown = true
		}
	}

	return c, nil
}

// validate checks a NOERROR answer to req.
func (r *Resolver) validate(req *request, ans *dnsutil.Answers) verdict {
	if ans.Strange {
		return strangeVerdict(false, "question %s does not match %s", ans.Question.String(), req.question().String())
	}

	c, bad := follow(req.name, ans)
	if bad != nil {
		return *bad
	}

	v := verdict{outcome: nodata}
	first := true

	for i := range ans.Records {
		rr := &ans.Records[i]

		if rr.Strange {
			return strangeVerdict(false, "record %s has class %s", rr.Name, dns.ClassToString[rr.Class])
		}

		switch rr.Type {
		case dns.TypeCNAME:
			if !c.has(rr.Name) {
				return strangeVerdict(true, "CNAME for unrelated name %s", rr.Name)
			}
			continue

		case req.qtype:

		default:
			return strangeVerdict(false, "unexpected %s record for %s", dns.TypeToString[rr.Type], rr.Name)
		}

		ttl := time.Duration(rr.TTL) * time.Second
		if first || ttl < v.ttl {
			v.ttl = ttl
		}
		first = false

		if req.kind == Reverse {
			if bad := r.validatePTR(req, ans, rr, c, &v); bad != nil {
				return *bad
			}
			continue
		}

		if !c.has(rr.Name) {
			return strangeVerdict(true, "answer for %s does not match %s", rr.Name, req.name)
		}

		addr, ok := rr.Addr()
		if !ok || int(rr.Rdlength) != addrSize(req.qtype) {
			return maliciousVerdict("%s record for %s has rdata length %d", dns.TypeToString[rr.Type], rr.Name, rr.Rdlength)
		}

		v.outcome = answered
		v.addrs = append(v.addrs, addr)
	}

	if v.outcome == nodata {
		v.reason = fmt.Sprintf("no %s records", dns.TypeToString[req.qtype])
		return v
	}

	if req.kind == Forward {
		v.name = c.canonical()
		v.aliases = slices.Clone(c[:len(c)-1])
	}

	return v
}

// validatePTR checks one PTR record of a reverse answer. The owner must name
// the queried address, directly or through the CNAME chain.
func (r *Resolver) validatePTR(req *request, ans *dnsutil.Answers, rr *dnsutil.RR, c chain, v *verdict) *verdict {
	owner, ok := dnsutil.AddressFromReverse(rr.Name)
	if (!ok || owner != req.addr) && !c.has(rr.Name) {
		bad := strangeVerdict(true, "PTR owner %s does not match %s", rr.Name, req.addr)
		return &bad
	}

	name, err := ans.Target(rr)
	if err != nil {
		bad := maliciousVerdict("bad PTR rdata for %s: %v", rr.Name, err)
		return &bad
	}

	if _, ok := dns.IsDomainName(name); !ok || name == "." {
		bad := maliciousVerdict("PTR for %s points at invalid name %q", rr.Name, name)
		return &bad
	}

	v.outcome = answered
	if v.name == "" {
		v.name = name
	} else if !dnsutil.EqualName(v.name, name) && !slices.ContainsFunc(v.aliases, func(a string) bool { return dnsutil.EqualName(a, name) }) {
		v.aliases = append(v.aliases, name)
	}

	return nil
}

func addrSize(qtype uint16) int {
	if qtype == dns.TypeAAAA {
		return 16
	}
	return 4
}
