package rrcache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func Test_putGet(t *testing.T) {
	c := New()
	rr := mustRR(t, "example.com. 300 IN A 10.0.0.1")

	c.Put(rr)

	got, ok := c.Get("example.com.", dns.TypeA)
	require.True(t, ok)
	assert.Equal(t, rr.String(), got.String())
}

func Test_getCaseInsensitive(t *testing.T) {
	c := New()
	c.Put(mustRR(t, "Example.COM. 300 IN A 10.0.0.1"))

	_, ok := c.Get("example.com.", dns.TypeA)
	assert.True(t, ok)
}

func Test_ttlExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewWithClock(clock)

	c.Put(mustRR(t, "example.com. 10 IN A 10.0.0.1"))

	clock.Advance(5 * time.Second)
	_, ok := c.Get("example.com.", dns.TypeA)
	assert.True(t, ok, "still within TTL")

	clock.Advance(6 * time.Second)
	_, ok = c.Get("example.com.", dns.TypeA)
	assert.False(t, ok, "now - insertion > TTL must miss")
}

func Test_overwriteRefreshesTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewWithClock(clock)

	c.Put(mustRR(t, "example.com. 10 IN A 10.0.0.1"))
	clock.Advance(9 * time.Second)

	c.Put(mustRR(t, "example.com. 10 IN A 10.0.0.2"))
	clock.Advance(9 * time.Second)

	got, ok := c.Get("example.com.", dns.TypeA)
	require.True(t, ok, "overwrite should have refreshed the insertion time")
	assert.Contains(t, got.String(), "10.0.0.2")
}

func Test_sweepDropsExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewWithClock(clock)

	c.Put(mustRR(t, "old.example.com. 5 IN A 10.0.0.1"))
	c.Put(mustRR(t, "fresh.example.com. 500 IN A 10.0.0.2"))

	clock.Advance(10 * time.Second)
	c.Sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh.example.com.", dns.TypeA)
	assert.True(t, ok)
}

func Test_snapshotExcludesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewWithClock(clock)

	c.Put(mustRR(t, "old.example.com. 5 IN A 10.0.0.1"))
	c.Put(mustRR(t, "fresh.example.com. 500 IN A 10.0.0.2"))

	clock.Advance(10 * time.Second)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "fresh.example.com.", snap[0].Header().Name)
}
