package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
)

type event int

const (
	evRequest event = iota
	evResend
	evReply
	evTimeout
	evError
	evMalformed
	evUnmatched
	evStrange
	evMalicious
	evUncorroborated
	evAnswered
	evFailed
	evCancelled
)

var eventNames = [...]string{
	"request", "resend", "reply", "timeout", "error", "malformed", "unmatched",
	"strange", "malicious", "uncorroborated", "answered", "failed", "cancelled",
}

// Stats holds the resolver counters.
type Stats struct {
	Requests       uint64 `json:"requests"`
	Resends        uint64 `json:"resends"`
	Replies        uint64 `json:"replies"`
	Timeouts       uint64 `json:"timeouts"`
	Errors         uint64 `json:"errors"`
	Malformed      uint64 `json:"malformed"`
	Unmatched      uint64 `json:"unmatched"`
	Strange        uint64 `json:"strange"`
	Malicious      uint64 `json:"malicious"`
	Uncorroborated uint64 `json:"uncorroborated"`
	Answered       uint64 `json:"answered"`
	Failed         uint64 `json:"failed"`
	Cancelled      uint64 `json:"cancelled"`
}

func (s *Stats) add(e event) {
	switch e {
	case evRequest:
		s.Requests++
	case evResend:
		s.Resends++
	case evReply:
		s.Replies++
	case evTimeout:
		s.Timeouts++
	case evError:
		s.Errors++
	case evMalformed:
		s.Malformed++
	case evUnmatched:
		s.Unmatched++
	case evStrange:
		s.Strange++
	case evMalicious:
		s.Malicious++
	case evUncorroborated:
		s.Uncorroborated++
	case evAnswered:
		s.Answered++
	case evFailed:
		s.Failed++
	case evCancelled:
		s.Cancelled++
	}
}

var (
	resolverEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_resolver_events_total",
		Help: "Number of resolver events by kind",
	}, []string{"event"})

	resolverPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_resolver_pending_queries",
		Help: "Number of DNS queries waiting for an answer",
	})

	resolverLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_resolver_lookups_total",
		Help: "Number of lookups by kind and source",
	}, []string{"kind", "source"})
)

func init() {
	prometheus.MustRegister(resolverEvents)
	prometheus.MustRegister(resolverPending)
	prometheus.MustRegister(resolverLookups)
}
