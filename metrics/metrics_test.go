package metrics

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m io_prometheus_client.Metric
	assert.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func Test_observeReplyCountsServfail(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp := new(dns.Msg)
	resp.Rcode = dns.RcodeServerFailure

	r.ObserveReply(req, resp)

	assert.Equal(t, float64(1), counterValue(t, r.Servfails))
}

func Test_observeReplyLabelsByQtypeAndRcode(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAAAA)

	resp := new(dns.Msg)
	resp.Rcode = dns.RcodeSuccess

	r.ObserveReply(req, resp)

	got := counterValue(t, r.Queries.With(prometheus.Labels{"qtype": "AAAA", "rcode": "NOERROR"}))
	assert.Equal(t, float64(1), got)
}
