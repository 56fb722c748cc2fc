// Copyright 2016-2020 The CoreDNS authors and contributors
// Adapted for chatd usage.

package dnsutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressFromReverse(t *testing.T) {
	tests := []struct {
		reverseName     string
		expectedAddress string
	}{
		{
			"54.119.58.176.in-addr.arpa.",
			"176.58.119.54",
		},
		{
			"4.3.2.1.IN-ADDR.ARPA",
			"1.2.3.4",
		},
		{
			".58.176.in-addr.arpa.",
			"",
		},
		{
			"1.2.3.4.5.in-addr.arpa.",
			"",
		},
		{
			"a.b.c.d.in-addr.arpa.",
			"",
		},
		{
			"b.a.9.8.7.6.5.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.in-addr.arpa.",
			"",
		},
		{
			"b.a.9.8.7.6.5.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa.",
			"2001:db8::567:89ab",
		},
		{
			"d.0.1.0.0.2.ip6.arpa.",
			"",
		},
		{
			"54.119.58.176.ip6.arpa.",
			"",
		},
		{
			"NONAME",
			"",
		},
		{
			"",
			"",
		},
	}
	for i, test := range tests {
		got, ok := AddressFromReverse(test.reverseName)
		if test.expectedAddress == "" {
			assert.False(t, ok, "test %d", i)
			continue
		}
		if assert.True(t, ok, "test %d", i) {
			assert.Equal(t, test.expectedAddress, got.String(), "test %d", i)
		}
	}
}

func TestReverseName(t *testing.T) {
	name, err := ReverseName(netip.MustParseAddr("1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, "4.3.2.1.in-addr.arpa.", name)

	name, err = ReverseName(netip.MustParseAddr("::ffff:1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, "4.3.2.1.in-addr.arpa.", name)

	addr := netip.MustParseAddr("2001:db8::567:89ab")
	name, err = ReverseName(addr)
	require.NoError(t, err)
	assert.Equal(t, "b.a.9.8.7.6.5.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa.", name)

	back, ok := AddressFromReverse(name)
	assert.True(t, ok)
	assert.Equal(t, addr, back)
}

func TestIsReverse(t *testing.T) {
	assert.Equal(t, 1, IsReverse("4.3.2.1.in-addr.arpa."))
	assert.Equal(t, 2, IsReverse("1.0.0.2.IP6.ARPA."))
	assert.Equal(t, 0, IsReverse("example.com."))

	// AddressFromReverse only parses names IsReverse accepts
	for _, name := range []string{"example.com.", "4.3.2.1.in-addr.arpa.example.", "1.2.3.4"} {
		_, ok := AddressFromReverse(name)
		assert.False(t, ok, name)
	}

	addr, ok := AddressFromReverse("4.3.2.1.IN-ADDR.ARPA")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), addr)
}

func TestEqualName(t *testing.T) {
	assert.True(t, EqualName("Host.Example.", "host.example"))
	assert.False(t, EqualName("host.example.", "host.example.org."))
}
