// Package api serves the administrative HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/chatd/chatd/accesslist"
	"github.com/chatd/chatd/cache"
	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/resolver"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
)

// Loop runs closures on the goroutine owning the resolver.
type Loop interface {
	Do(fn func(*resolver.Resolver)) error
	Post(fn func(*resolver.Resolver)) error
}

// API type
type API struct {
	addr   string
	loop   Loop
	access *accesslist.AccessList
	router *gin.Engine
}

var debugpprof bool

func init() {
	_, debugpprof = os.LookupEnv("CHATD_PPROF")
}

// New return new api
func New(cfg *config.Config, loop Loop, access *accesslist.AccessList) *API {
	gin.SetMode(gin.ReleaseMode)

	a := &API{
		addr:   cfg.API,
		loop:   loop,
		access: access,
		router: gin.New(),
	}

	a.router.Use(gin.Recovery())
	a.routes()

	return a
}

func (a *API) routes() {
	dns := a.router.Group("/api/v1/dns")
	{
		dns.GET("/cache", a.cache)
		dns.GET("/stats", a.stats)
		dns.GET("/flush", a.flush)
		dns.GET("/lookup/:target", a.lookup)
	}

	if a.access != nil {
		bans := a.router.Group("/api/v1/bans")
		{
			bans.GET("", a.bans)
			bans.GET("/set", a.ban)
			bans.GET("/remove", a.unban)
		}
	}

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if debugpprof {
		debug := a.router.Group("/debug/pprof")
		{
			debug.GET("/", gin.WrapF(pprof.Index))
			debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			debug.GET("/profile", gin.WrapF(pprof.Profile))
			debug.GET("/symbol", gin.WrapF(pprof.Symbol))
			debug.GET("/trace", gin.WrapF(pprof.Trace))
			for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
				debug.GET("/"+name, gin.WrapH(pprof.Handler(name)))
			}
		}
	}
}

// Handler returns the API http handler.
func (a *API) Handler() http.Handler {
	return a.router
}

type entry struct {
	Name     string       `json:"name"`
	Aliases  []string     `json:"aliases,omitempty"`
	Addrs    []netip.Addr `json:"addrs"`
	Verified []netip.Addr `json:"verified,omitempty"`
	TTL      string       `json:"ttl"`
	Expires  time.Time    `json:"expires"`
}

func newEntry(e cache.Entry) entry {
	return entry{
		Name:     e.Name,
		Aliases:  e.Aliases,
		Addrs:    e.Addrs,
		Verified: e.Verified,
		TTL:      e.TTL.String(),
		Expires:  e.Expires,
	}
}

func (a *API) cache(c *gin.Context) {
	var snap resolver.Snapshot
	if !a.do(c, func(r *resolver.Resolver) { snap = r.Snapshot() }) {
		return
	}

	entries := make([]entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, newEntry(e))
	}

	c.JSON(http.StatusOK, gin.H{"size": len(entries), "entries": entries})
}

func (a *API) stats(c *gin.Context) {
	var snap resolver.Snapshot
	if !a.do(c, func(r *resolver.Resolver) {
		snap = resolver.Snapshot{Cache: r.Cache().Stats(), Resolver: r.Stats(), Pending: r.Pending()}
	}) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"resolver": snap.Resolver, "cache": snap.Cache, "pending": snap.Pending})
}

func (a *API) flush(c *gin.Context) {
	if !a.do(c, func(r *resolver.Resolver) { r.Flush() }) {
		return
	}

	zlog.Info("Host cache flushed", "remote", c.ClientIP())

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) lookup(c *gin.Context) {
	target := c.Param("target")

	q := &query{done: make(chan outcome, 1)}

	var start func(r *resolver.Resolver)
	if addr, err := netip.ParseAddr(target); err == nil {
		start = func(r *resolver.Resolver) { r.ResolveReverse(addr, q) }
	} else if strings.EqualFold(c.Query("type"), "AAAA") {
		start = func(r *resolver.Resolver) { r.ResolveForward6(target, q) }
	} else {
		start = func(r *resolver.Resolver) { r.ResolveForward(target, q) }
	}

	if err := a.loop.Post(start); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	select {
	case o := <-q.done:
		if o.err != nil {
			c.JSON(lookupStatus(o.err), gin.H{"error": o.err.Error(), "suspect": q.suspect})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"name":    o.res.Name,
			"aliases": o.res.Aliases,
			"addrs":   o.res.Addrs,
			"ttl":     o.res.TTL.String(),
			"cached":  o.res.Cached,
		})
	case <-c.Request.Context().Done():
		_ = a.loop.Do(func(r *resolver.Resolver) { r.Cancel(q) })
	}
}

func (a *API) bans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bans": a.access.Bans()})
}

func (a *API) ban(c *gin.Context) {
	if err := a.access.Ban(c.Query("cidr")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) unban(c *gin.Context) {
	ok, err := a.access.Unban(c.Query("cidr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (a *API) do(c *gin.Context, fn func(*resolver.Resolver)) bool {
	if err := a.loop.Do(fn); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, resolver.ErrBadTarget):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, resolver.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type outcome struct {
	res *resolver.Result
	err error
}

// query is the requester of an API lookup.
type query struct {
	done    chan outcome
	suspect bool
}

func (q *query) Resolved(res *resolver.Result) { q.done <- outcome{res: res} }
func (q *query) Failed(err error)              { q.done <- outcome{err: err} }
func (q *query) Suspect(error)                 { q.suspect = true }

// Run API server
func (a *API) Run(ctx context.Context) error {
	if a.addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		zlog.Info("API server stopping...", "addr", a.addr)

		apiCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(apiCtx); err != nil {
			zlog.Error("Shutdown API server failed", "error", err.Error())
		}
	}()

	zlog.Info("API server listening...", "addr", a.addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
