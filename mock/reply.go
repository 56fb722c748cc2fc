package mock

import (
	"encoding/binary"

	"github.com/miekg/dns"
)

// Reply builds a packed reply to the packed query with the answers given in
// zone file format. It panics on bad input.
func Reply(query []byte, rcode int, answers ...string) []byte {
	req := Unpack(query)

	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	m.RecursionAvailable = true
	m.Compress = true

	for _, a := range answers {
		rr, err := dns.NewRR(a)
		if err != nil {
			panic(err)
		}
		m.Answer = append(m.Answer, rr)
	}

	b, err := m.Pack()
	if err != nil {
		panic(err)
	}

	return b
}

// RawRR is an answer record written byte for byte.
type RawRR struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Rdata []byte
}

// RawReply builds a reply to query by hand, so records may carry rdata a
// well-behaved packer would refuse.
func RawReply(query []byte, rcode int, records ...RawRR) []byte {
	req := Unpack(query)

	flags := uint16(1<<15) | uint16(1<<7) | uint16(rcode&0xF)
	if req.RecursionDesired {
		flags |= 1 << 8
	}

	b := make([]byte, 12)
	binary.BigEndian.PutUint16(b[0:], req.Id)
	binary.BigEndian.PutUint16(b[2:], flags)
	binary.BigEndian.PutUint16(b[4:], 1)
	binary.BigEndian.PutUint16(b[6:], uint16(len(records)))

	q := req.Question[0]
	b = append(b, WireName(q.Name)...)
	b = binary.BigEndian.AppendUint16(b, q.Qtype)
	b = binary.BigEndian.AppendUint16(b, q.Qclass)

	for _, r := range records {
		class := r.Class
		if class == 0 {
			class = dns.ClassINET
		}

		b = append(b, WireName(r.Name)...)
		b = binary.BigEndian.AppendUint16(b, r.Type)
		b = binary.BigEndian.AppendUint16(b, class)
		b = binary.BigEndian.AppendUint32(b, r.TTL)
		b = binary.BigEndian.AppendUint16(b, uint16(len(r.Rdata)))
		b = append(b, r.Rdata...)
	}

	return b
}

// WireName returns name in uncompressed wire format.
func WireName(name string) []byte {
	buf := make([]byte, 256)

	n, err := dns.PackDomainName(dns.Fqdn(name), buf, 0, nil, false)
	if err != nil {
		panic(err)
	}

	return buf[:n]
}

// Unpack decodes a packed message. It panics on bad input.
func Unpack(b []byte) *dns.Msg {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		panic(err)
	}

	return m
}
