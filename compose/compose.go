// Package compose builds answer/authority/additional sections from a pool
// of RRs.
package compose

import (
	"strings"

	"github.com/miekg/dns"
)

// Compose builds a reply to req drawing answers, delegations, and glue from
// pool. authoritative controls the aa bit and the CNAME-as-answer /
// CNAME-glue rules that only apply in authoritative mode.
func Compose(req *dns.Msg, pool []dns.RR, authoritative bool) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = authoritative

	q := req.Question[0]

	answers := answerSection(q, pool, authoritative)
	m.Answer = answers

	if q.Qtype != dns.TypeNS {
		m.Ns = authoritySection(q.Name, pool)
	}

	m.Extra = additionalSection(answers, pool, authoritative)

	return m
}

// answerSection collects RRs whose owner equals qname and whose type
// equals qtype. In authoritative mode a CNAME at qname is also an answer,
// and the CNAME's target records from the pool are appended too.
func answerSection(q dns.Question, pool []dns.RR, authoritative bool) []dns.RR {
	var out []dns.RR

	for _, rr := range pool {
		if !strings.EqualFold(rr.Header().Name, q.Name) {
			continue
		}

		if rr.Header().Rrtype == q.Qtype {
			out = append(out, rr)
			continue
		}

		if authoritative && rr.Header().Rrtype == dns.TypeCNAME {
			out = append(out, rr)

			target := rr.(*dns.CNAME).Target
			for _, tr := range pool {
				if strings.EqualFold(tr.Header().Name, target) {
					out = append(out, tr)
				}
			}
		}
	}

	return out
}

// authoritySection walks qname progressively, stripping one leading label
// at a time, and returns every NS RR owned by the first suffix that
// contributes any — the closest enclosing delegation. Never emits
// authority for the empty name.
func authoritySection(qname string, pool []dns.RR) []dns.RR {
	suffix := qname

	for suffix != "" && suffix != "." {
		var ns []dns.RR

		for _, rr := range pool {
			if rr.Header().Rrtype == dns.TypeNS && strings.EqualFold(rr.Header().Name, suffix) {
				ns = append(ns, rr)
			}
		}

		if len(ns) > 0 {
			return ns
		}

		suffix = stripLabel(suffix)
	}

	return nil
}

// additionalSection includes, for each NS answer RR (or CNAME answer RR
// when not authoritative), every A RR in the pool owned by its rdata
// target.
func additionalSection(answers []dns.RR, pool []dns.RR, authoritative bool) []dns.RR {
	var out []dns.RR
	seen := make(map[string]struct{})

	addGlue := func(target string) {
		for _, rr := range pool {
			if rr.Header().Rrtype == dns.TypeA && strings.EqualFold(rr.Header().Name, target) {
				key := rr.Header().Name + "|" + rr.String()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, rr)
			}
		}
	}

	for _, rr := range answers {
		switch {
		case rr.Header().Rrtype == dns.TypeNS:
			addGlue(rr.(*dns.NS).Ns)
		case rr.Header().Rrtype == dns.TypeCNAME && !authoritative:
			addGlue(rr.(*dns.CNAME).Target)
		}
	}

	return out
}

// stripLabel removes one leading label from a fully-qualified name,
// e.g. "host.example.com." -> "example.com.". The root "." strips to "".
func stripLabel(name string) string {
	idx := strings.IndexByte(name, '.')
	if idx == -1 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}
