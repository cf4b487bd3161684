// Package rrcache implements a TTL-bound (name, type) -> RR cache. One
// entry per key; overwriting an existing key refreshes its insertion
// timestamp. The cache is mutated only from the event loop goroutine, so
// no locking is needed.
package rrcache

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
)

type entry struct {
	rr        dns.RR
	insertion time.Time
}

// Cache is the TTL-bound (name, type) -> RR map.
type Cache struct {
	data  map[uint64]entry
	clock clockwork.Clock
}

// New returns an empty cache using the real wall clock.
func New() *Cache {
	return &Cache{
		data:  make(map[uint64]entry),
		clock: clockwork.NewRealClock(),
	}
}

// NewWithClock returns an empty cache driven by clock, for deterministic
// TTL tests.
func NewWithClock(clock clockwork.Clock) *Cache {
	return &Cache{
		data:  make(map[uint64]entry),
		clock: clock,
	}
}

// Key hashes the (name, type) pair the same way for Put and Get:
// lower-cased owner name plus numeric qtype, so lookups are
// case-insensitive on the owner name.
func Key(name string, rtype uint16) uint64 {
	h := xxhash.New()

	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		h.Write([]byte{c})
	}

	var b [2]byte
	b[0] = byte(rtype >> 8)
	b[1] = byte(rtype)
	h.Write(b[:])

	return h.Sum64()
}

// Put inserts rr at key (rr's owner name, rr's type) with the current
// timestamp, overwriting any existing entry for that key.
func (c *Cache) Put(rr dns.RR) {
	key := Key(rr.Header().Name, rr.Header().Rrtype)
	c.data[key] = entry{rr: rr, insertion: c.clock.Now()}
}

// Get returns the entry for (name, rtype) if it has not expired.
func (c *Cache) Get(name string, rtype uint16) (dns.RR, bool) {
	key := Key(name, rtype)

	e, ok := c.data[key]
	if !ok {
		return nil, false
	}

	if c.expired(e) {
		delete(c.data, key)
		return nil, false
	}

	return e.rr, true
}

func (c *Cache) expired(e entry) bool {
	ttl := time.Duration(e.rr.Header().Ttl) * time.Second
	return c.clock.Now().Sub(e.insertion) > ttl
}

// Sweep drops all expired entries. Called on each request-handling entry
// so expired records never get served or counted towards cache size.
func (c *Cache) Sweep() {
	for key, e := range c.data {
		if c.expired(e) {
			delete(c.data, key)
		}
	}
}

// Snapshot yields all unexpired RRs, used to synthesise responses
// entirely from cache without a fresh upstream lookup.
func (c *Cache) Snapshot() []dns.RR {
	out := make([]dns.RR, 0, len(c.data))

	for key, e := range c.data {
		if c.expired(e) {
			delete(c.data, key)
			continue
		}
		out = append(out, e.rr)
	}

	return out
}

// Len reports the number of stored entries, including expired ones not
// yet swept, used by the debug API to report cache pressure.
func (c *Cache) Len() int {
	return len(c.data)
}
