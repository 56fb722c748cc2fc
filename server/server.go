// Package server accepts client connections and settles the hostname of
// every client through the resolver before handing it to a Registrar.
package server

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/chatd/chatd/accesslist"
	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/recovery"
	"github.com/chatd/chatd/resolver"
	"github.com/semihalev/zlog/v2"
)

var (
	errRegistrationTimeout = errors.New("registration timed out")
	errGone                = errors.New("client disconnected")
)

// Loop runs closures on the goroutine owning the resolver.
type Loop interface {
	Do(fn func(*resolver.Resolver)) error
	Post(fn func(*resolver.Resolver)) error
}

// Server type
type Server struct {
	addr    string
	name    string
	timeout time.Duration

	loop      Loop
	access    *accesslist.AccessList
	limits    *limiter
	registrar Registrar

	wg sync.WaitGroup
}

// New return new server
func New(cfg *config.Config, loop Loop, access *accesslist.AccessList) *Server {
	return &Server{
		addr:      cfg.Bind,
		name:      cfg.ServerName,
		timeout:   cfg.RegistrationTimeout.Duration,
		loop:      loop,
		access:    access,
		limits:    newLimiter(cfg.ConnectRate, cfg.ConnectBurst),
		registrar: &pinger{server: cfg.ServerName},
	}
}

// SetRegistrar replaces the registrar. It must be called before Run.
func (s *Server) SetRegistrar(r Registrar) {
	s.registrar = r
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	zlog.Info("Client server listening...", "net", "tcp", "addr", ln.Addr().String())

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Open sessions are closed
// before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			zlog.Warn("Client accept failed", "error", err.Error())
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer recovery.Guard("client session", nil)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	addr := remoteAddr(conn)

	c := newClient(conn, addr, s.name)
	defer c.close()

	if !s.access.Allowed(addr) {
		zlog.Debug("Client rejected by access list", "addr", addr.String())
		_ = c.Close("Access denied")
		return
	}

	if !s.limits.Allow(addr) {
		zlog.Debug("Client rejected by rate limit", "addr", addr.String())
		_ = c.Close("Connecting too fast")
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.close()
		case <-c.gone:
		}
	}()

	if err := c.Notice("*** Looking up your hostname..."); err != nil {
		return
	}

	name, err := s.lookupHost(ctx, c)
	switch {
	case err == nil:
		c.Hostname = name
		err = c.Notice("*** Found your hostname")
	case errors.Is(err, errRegistrationTimeout):
		zlog.Debug("Client registration timed out", "addr", addr.String())
		_ = c.Close("Registration timed out")
		return
	case errors.Is(err, errGone), ctx.Err() != nil:
		return
	default:
		zlog.Debug("Client hostname lookup failed", "addr", addr.String(), "error", err.Error())
		c.Hostname = addr.String()
		err = c.Notice("*** Couldn't look up your hostname")
	}

	if err != nil {
		return
	}

	zlog.Debug("Client connected", "addr", addr.String(), "host", c.Hostname)

	s.registrar.Register(ctx, c)
}

// lookupHost runs a verified reverse lookup of the client address. When the
// client goes away, or takes too long, the lookup is cancelled before
// lookupHost returns.
func (s *Server) lookupHost(ctx context.Context, c *Client) (string, error) {
	lk := &lookup{addr: c.Addr, done: make(chan outcome, 1)}

	if err := s.loop.Post(func(r *resolver.Resolver) { r.ResolveReverse(c.Addr, lk) }); err != nil {
		return "", err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var err error

	select {
	case o := <-lk.done:
		if o.err != nil {
			return "", o.err
		}
		return o.res.Name, nil
	case <-timer.C:
		err = errRegistrationTimeout
	case <-c.gone:
		err = errGone
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.cancel(lk)

	return "", err
}

func (s *Server) cancel(lk *lookup) {
	if err := s.loop.Do(func(r *resolver.Resolver) { r.Cancel(lk) }); err != nil {
		zlog.Debug("Hostname lookup cancel failed", "addr", lk.addr.String(), "error", err.Error())
	}
}

type outcome struct {
	res *resolver.Result
	err error
}

// lookup is the requester of a client hostname lookup.
type lookup struct {
	addr netip.Addr
	done chan outcome
}

func (lk *lookup) Resolved(res *resolver.Result) { lk.finish(outcome{res: res}) }

func (lk *lookup) Failed(err error) { lk.finish(outcome{err: err}) }

func (lk *lookup) Suspect(err error) {
	zlog.Warn("Suspicious DNS answer for client address", "addr", lk.addr.String(), "error", err.Error())
}

func (lk *lookup) finish(o outcome) {
	select {
	case lk.done <- o:
	default:
	}
}

func remoteAddr(conn net.Conn) netip.Addr {
	if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.Addr{}
}
