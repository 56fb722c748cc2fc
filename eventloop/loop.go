// Package eventloop runs the resolver on a single goroutine. Datagrams from
// the resolver socket, timer expiries and calls from other goroutines are
// all serialized through one select loop, so the resolver needs no locks.
package eventloop

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/resolver"
	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"
)

// ErrStopped is returned by Do and Post once the loop has stopped.
var ErrStopped = errors.New("event loop stopped")

const (
	packetBacklog = 256
	callBacklog   = 1024
)

type packet struct {
	from netip.AddrPort
	data []byte
}

// Loop type
type Loop struct {
	r     *resolver.Resolver
	conn  *net.UDPConn
	clock clockwork.Clock

	packets chan packet
	calls   chan func(*resolver.Resolver)

	// inbound holds datagrams handed over by the reader until the resolver
	// reads them through the transport.
	inbound []packet

	deadline time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New opens the resolver socket and returns a loop owning a resolver built
// from cfg. A nil clock means the real clock.
func New(cfg *config.Config, clock clockwork.Clock) (*Loop, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	l := &Loop{
		conn:    conn,
		clock:   clock,
		packets: make(chan packet, packetBacklog),
		calls:   make(chan func(*resolver.Resolver), callBacklog),
		done:    make(chan struct{}),
	}

	l.r, err = resolver.New(cfg, (*transport)(l), clock)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return l, nil
}

// LocalAddr returns the address of the resolver socket.
func (l *Loop) LocalAddr() netip.AddrPort {
	return l.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Run serves the loop until ctx is done. It closes the socket on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	go l.read(ctx)

	now := l.clock.Now()
	l.deadline = l.r.Maintenance(now)
	timer := l.clock.NewTimer(l.deadline.Sub(now))
	defer timer.Stop()

	zlog.Info("Resolver event loop started", "addr", l.LocalAddr().String())

	for {
		select {
		case <-ctx.Done():
			zlog.Info("Resolver event loop stopped")
			return nil

		case p := <-l.packets:
			l.inbound = append(l.inbound, p)
			for l.r.OnSocketReadable() {
			}

		case fn := <-l.calls:
			fn(l.r)

		case <-timer.Chan():
			now := l.clock.Now()
			l.deadline = l.r.Maintenance(now)
			timer.Reset(l.deadline.Sub(now))
			continue
		}

		// new lookups may want an earlier wake up
		now := l.clock.Now()
		if next := l.r.NextWake(now); next.Before(l.deadline) {
			timer.Stop()
			l.deadline = next
			timer.Reset(next.Sub(now))
		}
	}
}

func (l *Loop) read(ctx context.Context) {
	buf := make([]byte, 4096)

	for {
		n, from, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			zlog.Debug("Resolver socket read failed", "error", err.Error())
			continue
		}

		p := packet{from: from, data: append([]byte(nil), buf[:n]...)}

		select {
		case l.packets <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Do runs fn on the loop goroutine and waits for it to return. It must not
// be called from the loop goroutine, requester callbacks included.
func (l *Loop) Do(fn func(*resolver.Resolver)) error {
	finished := make(chan struct{})

	err := l.Post(func(r *resolver.Resolver) {
		defer close(finished)
		fn(r)
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Post queues fn to run on the loop goroutine.
func (l *Loop) Post(fn func(*resolver.Resolver)) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}

	select {
	case l.calls <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Close stops a loop that is not running.
func (l *Loop) Close() error {
	l.stop()
	return nil
}

// transport is the resolver view of the loop socket.
type transport Loop

func (t *transport) WriteTo(p []byte, addr netip.AddrPort) error {
	_, err := t.conn.WriteToUDPAddrPort(p, addr)
	return err
}

func (t *transport) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	if len(t.inbound) == 0 {
		return 0, netip.AddrPort{}, resolver.ErrWouldBlock
	}

	d := t.inbound[0]
	t.inbound = t.inbound[1:]

	return copy(p, d.data), d.from, nil
}
