package mock

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Nameserver is a UDP nameserver on loopback answering from a fixed set of
// records. Names without records get NXDOMAIN.
type Nameserver struct {
	Addr string

	server *dns.Server
	fin    chan error

	mu      sync.Mutex
	records map[string][]dns.RR
	queries []dns.Question
}

// NewNameserver starts a nameserver serving the records, given in zone file
// format.
func NewNameserver(records ...string) (*Nameserver, error) {
	ns := &Nameserver{records: make(map[string][]dns.RR), fin: make(chan error, 1)}

	for _, s := range records {
		rr, err := dns.NewRR(s)
		if err != nil {
			return nil, err
		}
		k := key(rr.Header().Name, rr.Header().Rrtype)
		ns.records[k] = append(ns.records[k], rr)
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	ns.Addr = pc.LocalAddr().String()
	ns.server = &dns.Server{PacketConn: pc, Handler: ns, ReadTimeout: time.Hour, WriteTimeout: time.Hour}

	waitLock := sync.Mutex{}
	waitLock.Lock()
	ns.server.NotifyStartedFunc = waitLock.Unlock

	go func() {
		ns.fin <- ns.server.ActivateAndServe()
		pc.Close()
	}()

	waitLock.Lock()

	return ns, nil
}

// ServeDNS implements the dns.Handler interface.
func (ns *Nameserver) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.RecursionAvailable = true

	ns.mu.Lock()
	if len(r.Question) == 1 {
		q := r.Question[0]
		ns.queries = append(ns.queries, q)
		m.Answer = ns.records[key(q.Name, q.Qtype)]
	}
	ns.mu.Unlock()

	if len(m.Answer) == 0 {
		m.Rcode = dns.RcodeNameError
	}

	_ = w.WriteMsg(m)
}

// Queries returns the questions received so far.
func (ns *Nameserver) Queries() []dns.Question {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	return append([]dns.Question(nil), ns.queries...)
}

// Close stops the nameserver.
func (ns *Nameserver) Close() error {
	err := ns.server.Shutdown()
	<-ns.fin
	return err
}

func key(name string, qtype uint16) string {
	return strings.ToLower(dns.Fqdn(name)) + "/" + dns.TypeToString[qtype]
}
