package mock

import (
	"net/netip"
	"os"
)

// Datagram is one UDP payload and its peer address.
type Datagram struct {
	Addr netip.AddrPort
	Data []byte
}

// Transport type is an in-memory resolver transport. Writes are recorded,
// reads return queued datagrams and never block.
type Transport struct {
	Sent []Datagram

	// WriteErr is returned by every WriteTo when set.
	WriteErr error

	inbound []Datagram
}

// NewTransport return transport
func NewTransport() *Transport {
	return &Transport{}
}

// WriteTo func
func (t *Transport) WriteTo(p []byte, addr netip.AddrPort) error {
	if t.WriteErr != nil {
		return t.WriteErr
	}

	t.Sent = append(t.Sent, Datagram{Addr: addr, Data: append([]byte(nil), p...)})

	return nil
}

// ReadFrom func returns os.ErrDeadlineExceeded when nothing is queued, like
// a UDP socket read with an expired deadline.
func (t *Transport) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	if len(t.inbound) == 0 {
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}

	d := t.inbound[0]
	t.inbound = t.inbound[1:]

	return copy(p, d.Data), d.Addr, nil
}

// Queue adds a datagram for the next ReadFrom.
func (t *Transport) Queue(from netip.AddrPort, data []byte) {
	t.inbound = append(t.inbound, Datagram{Addr: from, Data: data})
}

// Pending returns the number of queued datagrams.
func (t *Transport) Pending() int { return len(t.inbound) }

// Last returns the last datagram written.
func (t *Transport) Last() Datagram {
	if len(t.Sent) == 0 {
		return Datagram{}
	}
	return t.Sent[len(t.Sent)-1]
}

// Reset forgets sent datagrams.
func (t *Transport) Reset() { t.Sent = nil }
