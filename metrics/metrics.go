// Package metrics exposes process counters for the debug HTTP API:
// queries, cache hits, recursions, timeouts, and SERVFAILs, so the debug
// API has something to report beyond the raw query table.
package metrics

import (
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds every counter the resolver updates as it serves queries.
type Recorder struct {
	Queries     *prometheus.CounterVec
	CacheHits   prometheus.Counter
	Recursions  prometheus.Counter
	Timeouts    prometheus.Counter
	Servfails   prometheus.Counter
	Retransmits prometheus.Counter
}

// New registers every counter against reg. Pass prometheus.NewRegistry()
// in tests to avoid collisions with the global default registry.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsrecursor_queries_total",
			Help: "Client queries served, labelled by qtype and rcode.",
		}, []string{"qtype", "rcode"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsrecursor_cache_hits_total",
			Help: "Client queries answered directly from cache.",
		}),
		Recursions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsrecursor_recursions_started_total",
			Help: "Client queries that triggered a new recursive lookup.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsrecursor_timeouts_total",
			Help: "Recursive lookups that exhausted the retransmit budget.",
		}),
		Servfails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsrecursor_servfail_total",
			Help: "Client replies sent with rcode SERVFAIL.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsrecursor_retransmits_total",
			Help: "Iterative queries resent after a 1s timeout.",
		}),
	}

	reg.MustRegister(r.Queries, r.CacheHits, r.Recursions, r.Timeouts, r.Servfails, r.Retransmits)

	return r
}

// ObserveReply records the outcome of a finished client reply.
func (r *Recorder) ObserveReply(req *dns.Msg, resp *dns.Msg) {
	r.Queries.With(prometheus.Labels{
		"qtype": dns.TypeToString[req.Question[0].Qtype],
		"rcode": dns.RcodeToString[resp.Rcode],
	}).Inc()

	if resp.Rcode == dns.RcodeServerFailure {
		r.Servfails.Inc()
	}
}

// CacheHit records a client query answered directly from cache.
func (r *Recorder) CacheHit() { r.CacheHits.Inc() }

// RecursionStarted records a client query that triggered a fresh
// recursive lookup.
func (r *Recorder) RecursionStarted() { r.Recursions.Inc() }

// Retransmit records an iterative query resent after a timeout.
func (r *Recorder) Retransmit() { r.Retransmits.Inc() }

// Timeout records a recursive lookup that exhausted its retransmit budget.
func (r *Recorder) Timeout() { r.Timeouts.Inc() }
