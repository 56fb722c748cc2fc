package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/mock"
	"github.com/chatd/chatd/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Version(t *testing.T) {
	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "chatd v"+version+"\n", out.String())
}

func testConfig(ns string) *config.Config {
	cfg := &config.Config{
		Nameservers: []string{ns},
		Options:     []string{"recurse"},
		Timeout:     config.Duration{Duration: time.Second},
	}
	cfg.SetDefaults()

	return cfg
}

func Test_Lookup(t *testing.T) {
	ns, err := mock.NewNameserver(
		"4.3.2.1.in-addr.arpa. 60 IN PTR host.example.",
		"host.example. 60 IN A 1.2.3.4",
		"www.example. 60 IN CNAME host.example.",
		"host.example. 60 IN AAAA 2001:db8::1",
	)
	require.NoError(t, err)
	defer ns.Close()

	cfg := testConfig(ns.Addr)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, lookup(ctx, cfg, "1.2.3.4", false, &out))
	assert.Equal(t, "host.example.\naddress\t1.2.3.4\n", out.String())

	out.Reset()
	require.NoError(t, lookup(ctx, cfg, "host.example.", true, &out))
	assert.Equal(t, "host.example.\naddress\t2001:db8::1\n", out.String())

	out.Reset()
	err = lookup(ctx, cfg, "missing.example.", false, &out)
	assert.ErrorIs(t, err, resolver.ErrNotFound)
	assert.Empty(t, out.String())
}

func Test_LookupCmd(t *testing.T) {
	ns, err := mock.NewNameserver("host.example. 60 IN A 1.2.3.4")
	require.NoError(t, err)
	defer ns.Close()

	path := filepath.Join(t.TempDir(), "chatd.conf")
	conf := "version = \"1.0.0\"\nloglevel = \"error\"\nnameservers = [\"" + ns.Addr + "\"]\noptions = [\"recurse\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o644))

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "lookup", "host.example."})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "host.example.\naddress\t1.2.3.4\n", out.String())
}
