package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_config(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "example.conf")

	err := generateConfig(configFile)
	assert.NoError(t, err)

	cfg, err := Load(configFile, "0.0.0")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0", cfg.ServerVersion())
	assert.Equal(t, ":6667", cfg.Bind)
	assert.Equal(t, 4*time.Second, cfg.Timeout.Duration)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 600*time.Second, cfg.TTLFloor.Duration)
	assert.Equal(t, []string{"recurse", "defnames"}, cfg.Options)
}

func Test_configError(t *testing.T) {
	const configFile = ""

	_, err := Load(configFile, "0.0.0")
	assert.Error(t, err)
}

func Test_configDefaults(t *testing.T) {
	cfg := new(Config)
	cfg.SetDefaults()

	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
	assert.Equal(t, DefaultMaxSleep, cfg.MaxSleep.Duration)
	assert.Equal(t, DefaultResolvConf, cfg.ResolvConf)
	assert.Equal(t, DefaultRegistrationTimeout, cfg.RegistrationTimeout.Duration)
}

func writeResolvConf(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func Test_NameServersFromResolvConf(t *testing.T) {
	cfg := &Config{
		ResolvConf: writeResolvConf(t, "nameserver 192.0.2.53\nnameserver 2001:db8::53\nsearch example.org example.net\n"),
		Options:    []string{"recurse", "dnsrch"},
	}
	cfg.SetDefaults()

	ns, err := cfg.NameServers()
	require.NoError(t, err)

	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.53:53"),
		netip.MustParseAddrPort("[2001:db8::53]:53"),
	}, ns.Servers)
	assert.Equal(t, "example.org", ns.Domain)
	assert.Equal(t, []string{"example.org", "example.net"}, ns.Search)
	assert.True(t, ns.Has(OptRecurse))
	assert.True(t, ns.Has(OptDNSRch))
	assert.False(t, ns.Has(OptPrimary))
	assert.Equal(t, 4*time.Second, ns.Timeout)
	assert.Equal(t, 3, ns.Retries)
}

func Test_NameServersOverride(t *testing.T) {
	cfg := &Config{
		ResolvConf:  filepath.Join(t.TempDir(), "missing.conf"),
		Nameservers: []string{"198.51.100.1", "198.51.100.2:5353"},
		Domain:      "example.com",
	}
	cfg.SetDefaults()

	ns, err := cfg.NameServers()
	require.NoError(t, err)

	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("198.51.100.1:53"),
		netip.MustParseAddrPort("198.51.100.2:5353"),
	}, ns.Servers)
	assert.Equal(t, "example.com", ns.Domain)
}

func Test_NameServersErrors(t *testing.T) {
	cfg := &Config{ResolvConf: filepath.Join(t.TempDir(), "missing.conf")}
	cfg.SetDefaults()

	_, err := cfg.NameServers()
	assert.Error(t, err)

	cfg.Nameservers = []string{"not-an-address"}
	_, err = cfg.NameServers()
	assert.Error(t, err)

	cfg.Nameservers = []string{"192.0.2.1"}
	cfg.Options = []string{"bogus"}
	_, err = cfg.NameServers()
	assert.Error(t, err)
}

func Test_ParseOptions(t *testing.T) {
	o, err := ParseOptions([]string{"Recurse", " primary ", "igntc"})
	require.NoError(t, err)

	assert.Equal(t, OptRecurse|OptPrimary|OptIgnTC, o)
	assert.Equal(t, "recurse,primary,igntc", o.String())
}

func Test_Candidates(t *testing.T) {
	tests := []struct {
		name     string
		ns       NameServers
		input    string
		expected []string
	}{
		{
			name:     "Fully qualified",
			ns:       NameServers{Options: OptDNSRch, Search: []string{"example.org"}},
			input:    "host.example.com.",
			expected: []string{"host.example.com."},
		},
		{
			name:     "Default domain",
			ns:       NameServers{Options: OptDefNames, Domain: "example.org"},
			input:    "host",
			expected: []string{"host.example.org.", "host."},
		},
		{
			name:     "Default domain ignored for dotted names",
			ns:       NameServers{Options: OptDefNames, Domain: "example.org"},
			input:    "host.sub",
			expected: []string{"host.sub."},
		},
		{
			name:     "Search list",
			ns:       NameServers{Options: OptDNSRch, Search: []string{"a.example", "b.example."}},
			input:    "host",
			expected: []string{"host.a.example.", "host.b.example.", "host."},
		},
		{
			name:     "No options",
			ns:       NameServers{},
			input:    "host",
			expected: []string{"host."},
		},
		{
			name:     "Empty",
			ns:       NameServers{},
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.ns.Candidates(tt.input))
		})
	}
}

func Test_Policy(t *testing.T) {
	p, err := (&Config{}).Policy()
	assert.NoError(t, err)
	assert.Equal(t, ExhaustReject, p)

	p, err = (&Config{Exhaustion: "Abort"}).Policy()
	assert.NoError(t, err)
	assert.Equal(t, ExhaustAbort, p)

	_, err = (&Config{Exhaustion: "explode"}).Policy()
	assert.Error(t, err)
}

func Test_WatcherReload(t *testing.T) {
	path := writeResolvConf(t, "nameserver 192.0.2.1\n")

	cfg := &Config{ResolvConf: path}
	cfg.SetDefaults()

	got := make(chan *NameServers, 4)

	w, err := NewWatcher(cfg, func(ns *NameServers) { got <- ns })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("nameserver 192.0.2.2\n"), 0o644))
	require.NoError(t, w.Reload())

	select {
	case ns := <-got:
		assert.Equal(t, netip.MustParseAddrPort("192.0.2.2:53"), ns.Servers[0])
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
}
