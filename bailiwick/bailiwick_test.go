package bailiwick

import (
	"testing"

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

func Test_filterDropsOutOfZone(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		mustRR(t, "ns1.example.com. 300 IN A 10.0.0.1"),
		mustRR(t, "evil.org. 300 IN A 6.6.6.6"),
	}

	out := Filter(msg, "example.com.")

	require.Len(t, out.Answer, 1)
	assert.Equal(t, "ns1.example.com.", out.Answer[0].Header().Name)
}

func Test_filterKeepsZoneApex(t *testing.T) {
	msg := new(dns.Msg)
	msg.Ns = []dns.RR{mustRR(t, "example.com. 300 IN NS ns1.example.com.")}

	out := Filter(msg, "example.com.")
	require.Len(t, out.Ns, 1)
}

func Test_filterCaseInsensitive(t *testing.T) {
	msg := new(dns.Msg)
	msg.Extra = []dns.RR{mustRR(t, "NS1.EXAMPLE.COM. 300 IN A 10.0.0.1")}

	out := Filter(msg, "example.com.")
	require.Len(t, out.Extra, 1)
}

func Test_filterDoesNotMutateInput(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		mustRR(t, "evil.org. 300 IN A 6.6.6.6"),
	}

	_ = Filter(msg, "example.com.")

	assert.Len(t, msg.Answer, 1, "original message must be untouched")
}
