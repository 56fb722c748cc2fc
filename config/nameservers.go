package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Option is a resolver option flag.
type Option uint16

const (
	OptRecurse  Option = 1 << iota // set recursion desired on queries
	OptDefNames                    // append the default domain to single-label names
	OptDNSRch                      // try the search list for unqualified names
	OptPrimary                     // only ever query the first nameserver
	OptIgnTC                       // accept truncated replies
	OptStayOpen                    // keep the query socket open between lookups
)

var optionNames = map[string]Option{
	"recurse":  OptRecurse,
	"defnames": OptDefNames,
	"dnsrch":   OptDNSRch,
	"primary":  OptPrimary,
	"igntc":    OptIgnTC,
	"stayopen": OptStayOpen,
}

// ErrNoNameservers is returned when neither the config file nor the
// resolver configuration file name a usable nameserver.
var ErrNoNameservers = errors.New("no nameservers configured")

// ParseOptions converts option names to flags.
func ParseOptions(names []string) (Option, error) {
	var o Option
	for _, n := range names {
		f, ok := optionNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown resolver option %q", n)
		}
		o |= f
	}
	return o, nil
}

// String returns the option names joined by commas.
func (o Option) String() string {
	var names []string
	for _, n := range []string{"recurse", "defnames", "dnsrch", "primary", "igntc", "stayopen"} {
		if o&optionNames[n] != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, ",")
}

// NameServers is the nameserver configuration used by the resolver. The
// resolver never modifies it; a reload replaces the whole value.
type NameServers struct {
	Servers []netip.AddrPort
	Timeout time.Duration
	Retries int
	Options Option
	Domain  string
	Search  []string
}

// Has reports whether option o is set.
func (ns *NameServers) Has(o Option) bool {
	return ns.Options&o != 0
}

// Candidates returns the fully qualified names to try for name, in order.
func (ns *NameServers) Candidates(name string) []string {
	if name == "" {
		return nil
	}
	if dns.IsFqdn(name) {
		return []string{name}
	}

	dots := strings.Count(name, ".")
	out := make([]string, 0, len(ns.Search)+2)

	if dots > 0 {
		out = append(out, dns.Fqdn(name))
	}

	switch {
	case ns.Has(OptDNSRch):
		for _, s := range ns.Search {
			out = append(out, dns.Fqdn(name+"."+strings.Trim(s, ".")))
		}
	case ns.Has(OptDefNames) && ns.Domain != "" && dots == 0:
		out = append(out, dns.Fqdn(name+"."+strings.Trim(ns.Domain, ".")))
	}

	if dots == 0 {
		out = append(out, dns.Fqdn(name))
	}

	return dedupe(out)
}

// NameServers builds the nameserver configuration. Nameservers, domain and
// search entries set in the config file win over the resolver configuration
// file.
func (c *Config) NameServers() (*NameServers, error) {
	opts, err := ParseOptions(c.Options)
	if err != nil {
		return nil, err
	}

	ns := &NameServers{
		Timeout: c.Timeout.Duration,
		Retries: c.Retries,
		Options: opts,
		Domain:  c.Domain,
		Search:  c.Search,
	}
	if ns.Timeout <= 0 {
		ns.Timeout = DefaultTimeout
	}
	if ns.Retries <= 0 {
		ns.Retries = DefaultRetries
	}

	servers := c.Nameservers

	if len(servers) == 0 || (ns.Domain == "" && len(ns.Search) == 0) {
		rc, err := dns.ClientConfigFromFile(c.ResolvConf)
		switch {
		case err != nil && len(servers) == 0:
			return nil, fmt.Errorf("could not read resolver configuration: %w", err)
		case err == nil:
			if len(servers) == 0 {
				for _, s := range rc.Servers {
					servers = append(servers, net.JoinHostPort(s, rc.Port))
				}
			}
			if ns.Domain == "" && len(ns.Search) == 0 && len(rc.Search) > 0 {
				ns.Domain = rc.Search[0]
				ns.Search = rc.Search
			}
		}
	}

	for _, s := range servers {
		ap, err := ParseServer(s)
		if err != nil {
			return nil, err
		}
		ns.Servers = append(ns.Servers, ap)
	}

	if len(ns.Servers) == 0 {
		return nil, ErrNoNameservers
	}

	return ns, nil
}

// ParseServer parses "host:port" or a bare address, defaulting to port 53.
func ParseServer(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}

	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid nameserver %q", s)
	}

	return netip.AddrPortFrom(addr.Unmap(), 53), nil
}

// ExhaustionPolicy decides what happens when the pending query limit is hit.
type ExhaustionPolicy int

const (
	// ExhaustReject fails the new lookup and keeps running.
	ExhaustReject ExhaustionPolicy = iota
	// ExhaustAbort stops the process.
	ExhaustAbort
)

// Policy returns the configured exhaustion policy.
func (c *Config) Policy() (ExhaustionPolicy, error) {
	switch strings.ToLower(c.Exhaustion) {
	case "", "reject":
		return ExhaustReject, nil
	case "abort":
		return ExhaustAbort, nil
	default:
		return ExhaustReject, fmt.Errorf("unknown exhaustion policy %q", c.Exhaustion)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		k := strings.ToLower(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out
}
