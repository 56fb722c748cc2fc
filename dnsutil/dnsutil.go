// Copyright 2016-2020 The CoreDNS authors and contributors
// Adapted for chatd usage.

package dnsutil

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

const (
	// IP4arpa is the reverse tree suffix for v4 IP addresses.
	IP4arpa = ".in-addr.arpa."
	// IP6arpa is the reverse tree suffix for v6 IP addresses.
	IP6arpa = ".ip6.arpa."
)

// ReverseName returns the in-addr.arpa. or ip6.arpa. name of addr.
func ReverseName(addr netip.Addr) (string, error) {
	return dns.ReverseAddr(addr.Unmap().String())
}

// AddressFromReverse turns a standard PTR reverse record name
// into an IP address. This works for ipv4 or ipv6.
//
// 54.119.58.176.in-addr.arpa. becomes 176.58.119.54. If the conversion
// fails ok is false.
func AddressFromReverse(reverseName string) (addr netip.Addr, ok bool) {
	name := strings.ToLower(dns.Fqdn(reverseName))

	var s string

	switch IsReverse(name) {
	case 1:
		s = reverse(strings.Split(strings.TrimSuffix(name, IP4arpa), "."))
	case 2:
		s = reverse6(strings.Split(strings.TrimSuffix(name, IP6arpa), "."))
	default:
		return netip.Addr{}, false
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}

	return addr, true
}

// IsReverse returns 0 is name is not in a reverse zone. Anything > 0 indicates
// name is in a reverse zone. The returned integer will be 1 for in-addr.arpa. (IPv4)
// and 2 for ip6.arpa. (IPv6).
func IsReverse(name string) int {
	name = strings.ToLower(name)
	if strings.HasSuffix(name, IP4arpa) {
		return 1
	}
	if strings.HasSuffix(name, IP6arpa) {
		return 2
	}
	return 0
}

func reverse(slice []string) string {
	if len(slice) != 4 {
		return ""
	}
	for i := 0; i < len(slice)/2; i++ {
		j := len(slice) - i - 1
		slice[i], slice[j] = slice[j], slice[i]
	}
	return strings.Join(slice, ".")
}

// reverse6 reverse the segments and combine them according to RFC3596:
// b.a.9.8.7.6.5.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2
// is reversed to 2001:db8::567:89ab
func reverse6(slice []string) string {
	if len(slice) != 32 {
		return ""
	}
	for i := 0; i < len(slice)/2; i++ {
		j := len(slice) - i - 1
		slice[i], slice[j] = slice[j], slice[i]
	}
	for _, nibble := range slice {
		if len(nibble) != 1 {
			return ""
		}
	}
	slice6 := make([]string, 0, 8)
	for i := 0; i < len(slice)/4; i++ {
		slice6 = append(slice6, strings.Join(slice[i*4:i*4+4], ""))
	}
	return strings.Join(slice6, ":")
}

// EqualName compares two domain names case-insensitively, ignoring a
// trailing dot.
func EqualName(a, b string) bool {
	return strings.EqualFold(dns.Fqdn(a), dns.Fqdn(b))
}
