// Package resolver implements the hybrid authoritative/recursive state
// machine at the core of the server: request classification,
// authoritative/cached/recursive handling, upstream response dispatch, and
// the timer sweep. Every method here is called only from the event loop
// goroutine — there is no internal locking.
package resolver

import (
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/semihalev/log"

	"github.com/Tvcz/dns-server/bailiwick"
	"github.com/Tvcz/dns-server/compose"
	"github.com/Tvcz/dns-server/querytable"
	"github.com/Tvcz/dns-server/rrcache"
	"github.com/Tvcz/dns-server/zone"
)

// Transport sends messages to clients and upstream servers. The event
// loop supplies the real UDP implementation; tests supply a recording
// fake that captures what would have gone out on the wire.
type Transport interface {
	SendClient(addr net.Addr, msg *dns.Msg) error
	SendUpstream(addr string, msg *dns.Msg) error
}

// Tracer records a per-query trace line. querylog.Logger implements this;
// tests may pass nil, which is treated as a no-op.
type Tracer interface {
	Trace(clientID uint16, line string)
}

// MetricsSink observes resolver activity. metrics.Recorder implements
// this; a nil sink is a no-op.
type MetricsSink interface {
	ObserveReply(req, resp *dns.Msg)
	CacheHit()
	RecursionStarted()
	Retransmit()
	Timeout()
}

// Resolver holds all single-threaded server state: the authoritative zone,
// the answer cache, and the table of outstanding iterative queries.
type Resolver struct {
	Zone  *zone.Store
	Cache *rrcache.Cache
	Table *querytable.Table

	transport Transport
	tracer    Tracer
	metrics   MetricsSink
	clock     clockwork.Clock
	newID     func() uint16

	rootAddr           string
	upstreamPort       int
	retransmitInterval time.Duration
	maxAttempts        int
}

// New builds a resolver. rootAddr is the dotted-quad IPv4 of the seed
// root server recursion starts from; upstreamPort is the port iterative
// queries are sent to on every remote server.
func New(zoneStore *zone.Store, cache *rrcache.Cache, table *querytable.Table, transport Transport, tracer Tracer, clock clockwork.Clock, rootAddr string, upstreamPort int, retransmitInterval time.Duration, maxAttempts int) *Resolver {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	return &Resolver{
		Zone:               zoneStore,
		Cache:              cache,
		Table:              table,
		transport:          transport,
		tracer:             tracer,
		clock:              clock,
		newID:              func() uint16 { return uint16(rng.Intn(1 << 16)) },
		rootAddr:           net.JoinHostPort(rootAddr, itoa(upstreamPort)),
		upstreamPort:       upstreamPort,
		retransmitInterval: retransmitInterval,
		maxAttempts:        maxAttempts,
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// SetMetrics attaches a metrics sink. Optional; a resolver with no sink
// attached simply skips observation.
func (r *Resolver) SetMetrics(m MetricsSink) {
	r.metrics = m
}

func (r *Resolver) trace(clientID uint16, line string) {
	if r.tracer != nil {
		r.tracer.Trace(clientID, line)
	}
}

func (r *Resolver) cacheHit() {
	if r.metrics != nil {
		r.metrics.CacheHit()
	}
}

func (r *Resolver) recursionStarted() {
	if r.metrics != nil {
		r.metrics.RecursionStarted()
	}
}

func (r *Resolver) retransmitted() {
	if r.metrics != nil {
		r.metrics.Retransmit()
	}
}

func (r *Resolver) timedOut() {
	if r.metrics != nil {
		r.metrics.Timeout()
	}
}

// freshID returns an iterative transaction id not already in use, active
// or retired, so a stale response can never be mistaken for a fresh one.
func (r *Resolver) freshID() uint16 {
	for {
		id := r.newID()
		if !r.Table.Contains(id) && !r.Table.Retired(id) {
			return id
		}
	}
}

// HandleClient classifies and answers one client-originated datagram:
// served from the local zone, from cache, or by starting recursion.
func (r *Resolver) HandleClient(msg *dns.Msg, addr net.Addr) {
	r.Cache.Sweep()

	if msg.Opcode != dns.OpcodeQuery {
		log.Debug("dropping non-standard opcode", "opcode", msg.Opcode, "client", addr)
		return
	}

	if len(msg.Question) == 0 {
		log.Debug("dropping question-less message", "client", addr)
		return
	}

	q := msg.Question[0]

	if zoneName, ok := r.Zone.Owns(q.Name); ok {
		r.handleAuthoritative(msg, addr, zoneName)
		return
	}

	if _, ok := r.Cache.Get(q.Name, q.Qtype); ok {
		r.handleCached(msg, addr)
		return
	}

	r.handleRecursive(msg, addr)
}

func (r *Resolver) handleAuthoritative(msg *dns.Msg, addr net.Addr, _ string) {
	resp := compose.Compose(msg, r.Zone.AllRecords(), true)
	if len(resp.Answer) == 0 {
		resp.Rcode = dns.RcodeNameError
	}

	r.sendClient(addr, msg, resp)
}

func (r *Resolver) handleCached(msg *dns.Msg, addr net.Addr) {
	r.cacheHit()
	resp := compose.Compose(msg, r.Cache.Snapshot(), false)
	r.sendClient(addr, msg, resp)
}

func (r *Resolver) handleRecursive(msg *dns.Msg, addr net.Addr) {
	if !msg.RecursionDesired {
		r.servfail(msg, addr)
		return
	}

	q := msg.Question[0]
	r.recursionStarted()

	iid := r.freshID()
	iter := new(dns.Msg)
	iter.SetQuestion(q.Name, q.Qtype)
	iter.Id = iid
	iter.RecursionDesired = false

	query := querytable.New(msg, addr)
	query.LastRequest = iter
	query.LastServer = r.rootAddr
	query.LastSent = r.clock.Now()
	query.Attempts = 1

	r.Table.Insert(iid, query)
	r.trace(msg.Id, "recursing for "+q.Name+" via root "+r.rootAddr)

	if err := r.transport.SendUpstream(r.rootAddr, iter); err != nil {
		log.Warn("send upstream failed", "error", err.Error())
	}
}

// HandleUpstream processes one upstream-originated datagram: matches it
// to an outstanding iterative query, absorbs in-bailiwick records into
// the cache, and dispatches on its shape (SERVFAIL, empty, authoritative,
// or a referral) to decide the next step.
func (r *Resolver) HandleUpstream(msg *dns.Msg, from string) {
	if r.Table.Retired(msg.Id) {
		return
	}

	query, ok := r.Table.Take(msg.Id)
	if !ok {
		log.Debug("response for unknown iterative id", "id", msg.Id, "from", from)
		return
	}
	r.Table.Retire(msg.Id)

	filtered := bailiwick.Filter(msg, query.ActiveZone)
	r.absorb(filtered)

	switch {
	case filtered.Rcode == dns.RcodeServerFailure:
		r.failQuery(query)

	case isEmpty(filtered):
		r.finishToClient(query, filtered)

	case filtered.Authoritative:
		r.handleAuthoritativeUpstream(query, filtered)

	case !filtered.Authoritative && len(filtered.Ns) > 0:
		r.handleReferral(query, filtered)

	default:
		r.failQuery(query)
	}
}

func isEmpty(m *dns.Msg) bool {
	return len(m.Answer) == 0 && len(m.Ns) == 0 && len(m.Extra) == 0
}

func (r *Resolver) absorb(m *dns.Msg) {
	for _, rr := range m.Answer {
		r.Cache.Put(rr)
	}
	for _, rr := range m.Ns {
		r.Cache.Put(rr)
	}
	for _, rr := range m.Extra {
		r.Cache.Put(rr)
	}
}

func (r *Resolver) handleAuthoritativeUpstream(query *querytable.Query, filtered *dns.Msg) {
	originalQtype := query.ClientMsg.Question[0].Qtype

	for _, rr := range filtered.Answer {
		if rr.Header().Rrtype == originalQtype {
			r.finishToClient(query, filtered)
			return
		}
	}

	if allCNAME(filtered.Answer) && len(filtered.Answer) > 0 {
		r.chaseCNAME(query, filtered)
		return
	}

	r.failQuery(query)
}

func allCNAME(rrs []dns.RR) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype != dns.TypeCNAME {
			return false
		}
	}
	return true
}

func (r *Resolver) chaseCNAME(query *querytable.Query, filtered *dns.Msg) {
	target := filtered.Answer[0].(*dns.CNAME).Target
	query.CNAMEs = append(query.CNAMEs, filtered.Answer...)
	query.ActiveZone = "."

	originalQtype := query.ClientMsg.Question[0].Qtype

	iid := r.freshID()
	iter := new(dns.Msg)
	iter.SetQuestion(target, originalQtype)
	iter.Id = iid
	iter.RecursionDesired = false

	query.LastRequest = iter
	query.LastServer = r.rootAddr
	query.LastSent = r.clock.Now()
	query.Attempts = 1

	r.Table.Insert(iid, query)
	r.trace(query.ClientID, "CNAME chase to "+target+" via root "+r.rootAddr)

	if err := r.transport.SendUpstream(r.rootAddr, iter); err != nil {
		log.Warn("send upstream failed", "error", err.Error())
	}
}

// handleReferral advances the active zone: find the glue A record for one
// of the authority NS targets and send the next iterative query there.
func (r *Resolver) handleReferral(query *querytable.Query, filtered *dns.Msg) {
	var nsTarget, nsZone string
	var glue net.IP

	for _, ns := range filtered.Ns {
		nsrr, ok := ns.(*dns.NS)
		if !ok {
			continue
		}

		for _, ar := range filtered.Extra {
			arr, ok := ar.(*dns.A)
			if !ok {
				continue
			}
			if equalFoldName(arr.Header().Name, nsrr.Ns) {
				nsTarget = nsrr.Ns
				nsZone = nsrr.Header().Name
				glue = arr.A
				break
			}
		}
		if glue != nil {
			break
		}
	}

	if glue == nil {
		r.failQuery(query)
		return
	}

	query.ActiveZone = nsZone

	effective := query.ClientMsg.Question[0].Name
	if len(query.CNAMEs) > 0 {
		last := query.CNAMEs[len(query.CNAMEs)-1]
		if c, ok := last.(*dns.CNAME); ok {
			effective = c.Target
		}
	}

	originalQtype := query.ClientMsg.Question[0].Qtype

	iid := r.freshID()
	iter := new(dns.Msg)
	iter.SetQuestion(effective, originalQtype)
	iter.Id = iid
	iter.RecursionDesired = false

	server := net.JoinHostPort(glue.String(), itoa(r.upstreamPort))

	query.LastRequest = iter
	query.LastServer = server
	query.LastSent = r.clock.Now()
	query.Attempts = 1

	r.Table.Insert(iid, query)
	r.trace(query.ClientID, "advancing zone to "+nsZone+" via "+nsTarget)

	if err := r.transport.SendUpstream(server, iter); err != nil {
		log.Warn("send upstream failed", "error", err.Error())
	}
}

func equalFoldName(a, b string) bool {
	return dns.CanonicalName(a) == dns.CanonicalName(b)
}

func (r *Resolver) finishToClient(query *querytable.Query, filtered *dns.Msg) {
	pool := make([]dns.RR, 0, len(filtered.Answer)+len(filtered.Ns)+len(filtered.Extra))
	pool = append(pool, filtered.Answer...)
	pool = append(pool, filtered.Ns...)
	pool = append(pool, filtered.Extra...)

	resp := compose.Compose(query.ClientMsg, pool, false)

	// After a CNAME chase the terminal records are owned by the last CNAME
	// target, not by the client's qname, so Compose does not pick them up.
	answers := resp.Answer
	if n := len(query.CNAMEs); n > 0 {
		if c, ok := query.CNAMEs[n-1].(*dns.CNAME); ok {
			qtype := query.ClientMsg.Question[0].Qtype
			for _, rr := range filtered.Answer {
				if rr.Header().Rrtype == qtype && equalFoldName(rr.Header().Name, c.Target) {
					answers = append(answers, rr)
				}
			}
		}
	}
	resp.Answer = append(append([]dns.RR{}, query.CNAMEs...), answers...)

	r.Table.RetireAll(query)
	r.sendClient(query.ClientAddr, query.ClientMsg, resp)
}

func (r *Resolver) failQuery(query *querytable.Query) {
	r.Table.RetireAll(query)
	r.servfail(query.ClientMsg, query.ClientAddr)
}

func (r *Resolver) servfail(msg *dns.Msg, addr net.Addr) {
	resp := new(dns.Msg)
	resp.SetReply(msg)
	resp.Rcode = dns.RcodeServerFailure
	r.sendClient(addr, msg, resp)
}

func (r *Resolver) sendClient(addr net.Addr, req, resp *dns.Msg) {
	if err := r.transport.SendClient(addr, resp); err != nil {
		log.Warn("send to client failed", "error", err.Error())
	}
	if r.metrics != nil {
		r.metrics.ObserveReply(req, resp)
	}
}

// Sweep resends timed-out iterative requests that are still within their
// retry budget, and fails the ones that have exhausted it.
func (r *Resolver) Sweep() {
	now := r.clock.Now()

	ids := make([]uint16, 0, r.Table.Len())
	for id := range r.Table.Values() {
		ids = append(ids, id)
	}

	for _, id := range ids {
		query, ok := r.Table.Values()[id]
		if !ok {
			continue
		}

		age := now.Sub(query.LastSent)
		if age <= r.retransmitInterval {
			continue
		}

		if query.Attempts > r.maxAttempts {
			r.timedOut()
			r.failQuery(query)
			continue
		}

		if err := r.transport.SendUpstream(query.LastServer, query.LastRequest); err != nil {
			log.Warn("retransmit failed", "error", err.Error())
		}
		r.retransmitted()
		query.LastSent = now
		query.Attempts++
	}
}
