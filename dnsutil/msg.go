package dnsutil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
)

const (
	headerSize = 12

	// minRRSize is a root owner name followed by the fixed record fields.
	minRRSize = 11
)

var (
	// ErrShortRead is returned for datagrams shorter than a message header.
	ErrShortRead = errors.New("dns message too short")
	// ErrMalformed is returned for messages that cannot be decoded safely.
	ErrMalformed = errors.New("malformed dns message")
)

// Header is a decoded message header, counts in host byte order.
type Header struct {
	ID               uint16
	Response         bool
	Opcode           int
	Authoritative    bool
	Truncated        bool
	RecursionDesired bool
	Rcode            int

	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is the question section of a message.
type Question struct {
	Name   string
	Qtype  uint16
	Qclass uint16
}

func (q Question) String() string {
	return q.Name + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}

// RR is an answer record with its rdata left undecoded.
type RR struct {
	Name     string
	Type     uint16
	Class    uint16
	TTL      uint32
	Rdlength uint16
	Rdata    []byte

	// Strange is set when the record class differs from the class asked.
	Strange bool

	off int
}

// Answers is the decoded answer section of a reply.
type Answers struct {
	Question Question
	// Strange is set when the question section differs from what was asked.
	Strange bool
	Records []RR

	msg []byte
}

// EncodeQuery packs a query with a single question. Names are compressed.
func EncodeQuery(id uint16, name string, qclass, qtype uint16, recurse bool) ([]byte, error) {
	m := new(dns.Msg)
	m.Id = id
	m.Opcode = dns.OpcodeQuery
	m.RecursionDesired = recurse
	m.Compress = true
	m.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: qtype, Qclass: qclass}}

	return m.Pack()
}

// DecodeHeader decodes the fixed message header. A message that does not
// carry exactly one question is malformed.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, ErrShortRead
	}

	flags := binary.BigEndian.Uint16(b[2:])

	h := Header{
		ID:               binary.BigEndian.Uint16(b[0:]),
		Response:         flags&(1<<15) != 0,
		Opcode:           int(flags>>11) & 0xF,
		Authoritative:    flags&(1<<10) != 0,
		Truncated:        flags&(1<<9) != 0,
		RecursionDesired: flags&(1<<8) != 0,
		Rcode:            int(flags & 0xF),
		QDCount:          binary.BigEndian.Uint16(b[4:]),
		ANCount:          binary.BigEndian.Uint16(b[6:]),
		NSCount:          binary.BigEndian.Uint16(b[8:]),
		ARCount:          binary.BigEndian.Uint16(b[10:]),
	}

	if h.QDCount != 1 {
		return h, fmt.Errorf("%w: %d questions", ErrMalformed, h.QDCount)
	}

	return h, nil
}

// answerCap bounds the record slice by what rest bytes can hold, so a forged
// answer count cannot size the allocation.
func answerCap(count uint16, rest int) int {
	return max(0, min(int(count), rest/minRRSize))
}

// DecodeAnswers decodes the question and answer sections of b. Every name is
// expanded with bounds checks against b. The question is compared with
// asked; a mismatch or a foreign record class marks the answers strange
// instead of failing the decode.
func DecodeAnswers(b []byte, h Header, asked Question) (*Answers, error) {
	qname, off, err := dns.UnpackDomainName(b, headerSize)
	if err != nil {
		return nil, fmt.Errorf("%w: question: %v", ErrMalformed, err)
	}
	if off+4 > len(b) {
		return nil, fmt.Errorf("%w: question truncated", ErrMalformed)
	}

	a := &Answers{
		Question: Question{
			Name:   qname,
			Qtype:  binary.BigEndian.Uint16(b[off:]),
			Qclass: binary.BigEndian.Uint16(b[off+2:]),
		},
		msg: b,
	}
	off += 4

	a.Records = make([]RR, 0, answerCap(h.ANCount, len(b)-off))

	a.Strange = !EqualName(a.Question.Name, asked.Name) ||
		a.Question.Qtype != asked.Qtype ||
		a.Question.Qclass != asked.Qclass

	for i := 0; i < int(h.ANCount); i++ {
		var rr RR

		rr.Name, off, err = dns.UnpackDomainName(b, off)
		if err != nil {
			return nil, fmt.Errorf("%w: answer %d: %v", ErrMalformed, i, err)
		}
		if off+10 > len(b) {
			return nil, fmt.Errorf("%w: answer %d truncated", ErrMalformed, i)
		}

		rr.Type = binary.BigEndian.Uint16(b[off:])
		rr.Class = binary.BigEndian.Uint16(b[off+2:])
		rr.TTL = binary.BigEndian.Uint32(b[off+4:])
		rr.Rdlength = binary.BigEndian.Uint16(b[off+8:])
		off += 10

		end := off + int(rr.Rdlength)
		if end > len(b) {
			return nil, fmt.Errorf("%w: answer %d rdata overruns message", ErrMalformed, i)
		}

		rr.Rdata = b[off:end:end]
		rr.Strange = rr.Class != asked.Qclass
		rr.off = off
		off = end

		a.Records = append(a.Records, rr)
	}

	return a, nil
}

// Addr interprets the rdata as an IPv4 or IPv6 address.
func (rr *RR) Addr() (netip.Addr, bool) {
	switch len(rr.Rdata) {
	case 4:
		return netip.AddrFrom4([4]byte(rr.Rdata)), true
	case 16:
		return netip.AddrFrom16([16]byte(rr.Rdata)), true
	}
	return netip.Addr{}, false
}

// Target expands the rdata of a CNAME or PTR record. Compression pointers may
// reach anywhere in the message but the name itself must end exactly at the
// end of the rdata.
func (a *Answers) Target(rr *RR) (string, error) {
	if rr.Rdlength == 0 {
		return "", fmt.Errorf("%w: empty rdata", ErrMalformed)
	}

	name, end, err := dns.UnpackDomainName(a.msg, rr.off)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if end != rr.off+int(rr.Rdlength) {
		return "", fmt.Errorf("%w: rdata length %d does not match name", ErrMalformed, rr.Rdlength)
	}

	return name, nil
}
