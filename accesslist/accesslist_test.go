package accesslist

import (
	"net/netip"
	"testing"

	"github.com/chatd/chatd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Accesslist(t *testing.T) {
	cfg := new(config.Config)
	cfg.AccessList = []string{"127.0.0.1/32", "10.0.0.0/8", "2001:db8::/32", "1"}
	cfg.Bans = []string{"10.1.0.0/16", "bad"}

	a := New(cfg)

	tests := []struct {
		addr    string
		allowed bool
	}{
		{"127.0.0.1", true},
		{"::ffff:127.0.0.1", true},
		{"10.2.3.4", true},
		{"10.1.2.3", false},
		{"192.0.2.1", false},
		{"2001:db8::1", true},
		{"2001:db9::1", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, a.Allowed(netip.MustParseAddr(tt.addr)), tt.addr)
	}

	assert.Equal(t, []string{"10.1.0.0/16"}, a.Bans())
}

func TestAccesslistOpen(t *testing.T) {
	a := New(new(config.Config))

	assert.True(t, a.Allowed(netip.MustParseAddr("192.0.2.1")))
	assert.True(t, a.Allowed(netip.MustParseAddr("2001:db8::1")))
}

func TestBanUnban(t *testing.T) {
	a := New(new(config.Config))
	addr := netip.MustParseAddr("192.0.2.1")

	require.NoError(t, a.Ban("192.0.2.1"))
	require.NoError(t, a.Ban("192.0.2.1/32"))
	assert.False(t, a.Allowed(addr))
	assert.Equal(t, []string{"192.0.2.1/32"}, a.Bans())

	ok, err := a.Unban("192.0.2.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.Allowed(addr))

	ok, err = a.Unban("192.0.2.1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, a.Ban("not an address"))
}

func TestParsePrefix(t *testing.T) {
	p, err := ParsePrefix("192.0.2.77/24")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.0/24", p.String())

	p, err = ParsePrefix(" ::ffff:192.0.2.1 ")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1/32", p.String())

	p, err = ParsePrefix("2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1/128", p.String())

	_, err = ParsePrefix("::ffff:192.0.2.0/120")
	assert.Error(t, err)
}
