package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatd/chatd/accesslist"
	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/eventloop"
	"github.com/chatd/chatd/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T, cfg *config.Config) *API {
	t.Helper()

	cfg.SetDefaults()

	l, err := eventloop.New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fin := make(chan error, 1)
	go func() { fin <- l.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-fin)
	})

	return New(cfg, l, accesslist.New(cfg))
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func Test_Run(t *testing.T) {
	a := New(&config.Config{}, nil, nil)
	assert.NoError(t, a.Run(context.Background()))

	a = New(&config.Config{API: "127.0.0.1:0"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	fin := make(chan error, 1)
	go func() { fin <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-fin:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("api server did not stop")
	}
}

func Test_AllAPICalls(t *testing.T) {
	ns, err := mock.NewNameserver(
		"4.3.2.1.in-addr.arpa. 60 IN PTR host.example.",
		"host.example. 60 IN A 1.2.3.4",
		"host.example. 60 IN AAAA 2001:db8::1",
	)
	require.NoError(t, err)
	defer ns.Close()

	debugpprof = true
	defer func() { debugpprof = false }()

	a := newAPI(t, &config.Config{
		Nameservers: []string{ns.Addr},
		Options:     []string{"recurse"},
		Timeout:     config.Duration{Duration: time.Second},
	})
	h := a.Handler()

	routes := []struct {
		ReqURL         string
		ExpectedStatus int
	}{
		{"/api/v1/dns/lookup/host.example.", http.StatusOK},
		{"/api/v1/dns/lookup/host.example.?type=AAAA", http.StatusOK},
		{"/api/v1/dns/lookup/1.2.3.4", http.StatusOK},
		{"/api/v1/dns/lookup/missing.example.", http.StatusNotFound},
		{"/api/v1/dns/cache", http.StatusOK},
		{"/api/v1/dns/stats", http.StatusOK},
		{"/api/v1/dns/flush", http.StatusOK},
		{"/api/v1/bans/set?cidr=192.0.2.0/24", http.StatusOK},
		{"/api/v1/bans/set?cidr=bad", http.StatusBadRequest},
		{"/api/v1/bans", http.StatusOK},
		{"/api/v1/bans/remove?cidr=192.0.2.0/24", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/debug/pprof/", http.StatusOK},
	}

	for _, r := range routes {
		w := get(t, h, r.ReqURL)
		assert.Equal(t, r.ExpectedStatus, w.Code, r.ReqURL)
	}
}

func TestLookupAndCache(t *testing.T) {
	ns, err := mock.NewNameserver(
		"4.3.2.1.in-addr.arpa. 60 IN PTR host.example.",
		"host.example. 60 IN A 1.2.3.4",
	)
	require.NoError(t, err)
	defer ns.Close()

	a := newAPI(t, &config.Config{
		Nameservers: []string{ns.Addr},
		Options:     []string{"recurse"},
		Timeout:     config.Duration{Duration: time.Second},
	})
	h := a.Handler()

	w := get(t, h, "/api/v1/dns/lookup/1.2.3.4")
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Name   string   `json:"name"`
		Addrs  []string `json:"addrs"`
		Cached bool     `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "host.example.", res.Name)
	assert.Equal(t, []string{"1.2.3.4"}, res.Addrs)
	assert.False(t, res.Cached)

	w = get(t, h, "/api/v1/dns/cache")
	require.Equal(t, http.StatusOK, w.Code)

	var dump struct {
		Size    int `json:"size"`
		Entries []struct {
			Name     string   `json:"name"`
			Verified []string `json:"verified"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dump))
	require.Equal(t, 1, dump.Size)
	assert.Equal(t, "host.example.", dump.Entries[0].Name)
	assert.Equal(t, []string{"1.2.3.4"}, dump.Entries[0].Verified)

	w = get(t, h, "/api/v1/dns/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Resolver struct {
			Answered uint64 `json:"answered"`
		} `json:"resolver"`
		Pending int `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint64(2), stats.Resolver.Answered)
	assert.Equal(t, 0, stats.Pending)

	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/dns/flush").Code)

	w = get(t, h, "/api/v1/dns/cache")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dump))
	assert.Equal(t, 0, dump.Size)
}

func TestLookupStopped(t *testing.T) {
	cfg := &config.Config{Nameservers: []string{"127.0.0.1:53"}}
	cfg.SetDefaults()

	l, err := eventloop.New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	a := New(cfg, l, nil)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, a.Handler(), "/api/v1/dns/lookup/1.2.3.4").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, a.Handler(), "/api/v1/dns/cache").Code)
	assert.Equal(t, http.StatusNotFound, get(t, a.Handler(), "/api/v1/bans").Code)
}
