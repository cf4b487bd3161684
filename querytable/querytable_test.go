package querytable

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientReq(t *testing.T) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Id = 0xBEEF
	m.RecursionDesired = true
	return m
}

func Test_insertTakeContains(t *testing.T) {
	tbl := NewTable()
	q := New(clientReq(t), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5353})

	tbl.Insert(1, q)
	assert.True(t, tbl.Contains(1))

	got, ok := tbl.Take(1)
	require.True(t, ok)
	assert.Same(t, q, got)
	assert.False(t, tbl.Contains(1))
}

func Test_retireIsIdempotentAndMovesOutOfActive(t *testing.T) {
	tbl := NewTable()
	q := New(clientReq(t), &net.UDPAddr{})

	tbl.Insert(7, q)
	tbl.Retire(7)

	assert.False(t, tbl.Contains(7))
	assert.True(t, tbl.Retired(7))

	// a second retire (e.g. late duplicate path) must not panic or change state
	tbl.Retire(7)
	assert.True(t, tbl.Retired(7))
}

func Test_everyIDInExactlyOneSet(t *testing.T) {
	tbl := NewTable()
	q := New(clientReq(t), &net.UDPAddr{})

	tbl.Insert(42, q)
	assert.True(t, tbl.Contains(42))
	assert.False(t, tbl.Retired(42))

	tbl.Retire(42)
	assert.False(t, tbl.Contains(42))
	assert.True(t, tbl.Retired(42))
}

func Test_retireAllRetiresEveryIDTheQueryUsed(t *testing.T) {
	tbl := NewTable()
	q := New(clientReq(t), &net.UDPAddr{})

	tbl.Insert(1, q)
	tbl.Insert(2, q) // CNAME chase / advance-zone reinserts under a new id

	tbl.RetireAll(q)

	assert.True(t, tbl.Retired(1))
	assert.True(t, tbl.Retired(2))
	assert.Equal(t, 0, tbl.Len())
}

func Test_newQueryStartsAtRootZone(t *testing.T) {
	q := New(clientReq(t), &net.UDPAddr{})
	assert.Equal(t, ".", q.ActiveZone)
	assert.Equal(t, uint16(0xBEEF), q.ClientID)
}
