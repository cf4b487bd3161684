// Package querytable tracks outstanding recursive queries by their
// iterative transaction id. It is mutated only from the single
// event-loop goroutine, so no locking is required.
package querytable

import (
	"net"
	"time"

	"github.com/miekg/dns"
)

// Query is the state tracked for one outstanding client recursion.
type Query struct {
	// Immutable for the life of the query.
	ClientMsg  *dns.Msg
	ClientAddr net.Addr
	ClientID   uint16

	// Mutable as recursion advances.
	CNAMEs         []dns.RR
	ActiveZone     string
	LastSent       time.Time
	LastRequest    *dns.Msg
	LastServer     string
	Attempts       int
	OutstandingIDs []uint16 // every iterative id this query has used, for RetireAll on terminate
}

// New creates a query record for a freshly received client request,
// with the active zone initialised to the root.
func New(clientMsg *dns.Msg, clientAddr net.Addr) *Query {
	return &Query{
		ClientMsg:  clientMsg,
		ClientAddr: clientAddr,
		ClientID:   clientMsg.Id,
		ActiveZone: ".",
	}
}

// Table maps an iterative transaction id to its query record.
// Every outstanding id appears in exactly one of {active, retired}.
type Table struct {
	active  map[uint16]*Query
	retired map[uint16]struct{}
}

// NewTable returns an empty query table.
func NewTable() *Table {
	return &Table{
		active:  make(map[uint16]*Query),
		retired: make(map[uint16]struct{}),
	}
}

// Insert records q under the fresh iterative id iid.
func (t *Table) Insert(iid uint16, q *Query) {
	t.active[iid] = q
	q.OutstandingIDs = append(q.OutstandingIDs, iid)
}

// Take returns and removes the query for iid, if any.
func (t *Table) Take(iid uint16) (*Query, bool) {
	q, ok := t.active[iid]
	if ok {
		delete(t.active, iid)
	}
	return q, ok
}

// Contains reports whether iid is currently an active iterative id.
func (t *Table) Contains(iid uint16) bool {
	_, ok := t.active[iid]
	return ok
}

// Retired reports whether iid has already been retired; a response
// carrying it is a late duplicate and must be a no-op.
func (t *Table) Retired(iid uint16) bool {
	_, ok := t.retired[iid]
	return ok
}

// Retire moves iid into the retired set. Idempotent.
func (t *Table) Retire(iid uint16) {
	delete(t.active, iid)
	t.retired[iid] = struct{}{}
}

// Values returns every active query, for the timer sweep.
func (t *Table) Values() map[uint16]*Query {
	return t.active
}

// RetireAll retires every iterative id q has used and removes q from the
// active table — called when a query terminates (forwarded, SERVFAIL, or
// the attempt budget is exhausted).
func (t *Table) RetireAll(q *Query) {
	for _, iid := range q.OutstandingIDs {
		t.Retire(iid)
	}
}

// Len returns the number of currently active queries.
func (t *Table) Len() int {
	return len(t.active)
}

// RetiredLen returns the size of the retired-id set. This grows
// monotonically for the process lifetime; it is exposed so the debug API
// can report its growth, not to bound it.
func (t *Table) RetiredLen() int {
	return len(t.retired)
}
