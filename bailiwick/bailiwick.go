// Package bailiwick drops out-of-zone records from untrusted upstream
// responses. A referral from a .com server may not legitimately deliver
// records for evil.org.
package bailiwick

import (
	"github.com/miekg/dns"
	"github.com/semihalev/log"
)

// Filter retains, independently in Answer/Ns/Extra, only RRs whose owner
// name equals zone or is a subdomain of it (dns.IsSubDomain — the same
// suffix-comparison primitive the wider DNS ecosystem uses for delegation
// checks). It returns a new message; msg is not mutated. Dropped records
// are logged.
func Filter(msg *dns.Msg, zone string) *dns.Msg {
	out := msg.Copy()

	out.Answer = keep(msg.Answer, zone)
	out.Ns = keep(msg.Ns, zone)
	out.Extra = keep(msg.Extra, zone)

	return out
}

func keep(rrs []dns.RR, zone string) []dns.RR {
	kept := make([]dns.RR, 0, len(rrs))

	for _, rr := range rrs {
		name := rr.Header().Name

		if dns.IsSubDomain(zone, name) {
			kept = append(kept, rr)
			continue
		}

		log.Debug("Dropped out-of-bailiwick record", "owner", name, "zone", zone)
	}

	return kept
}
