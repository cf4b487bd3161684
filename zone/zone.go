// Package zone loads the authoritative records this server hosts from a
// master-file on disk. It is immutable after Load.
package zone

import (
	"fmt"
	"os"
	"strings"

	"github.com/miekg/dns"
)

// Store is an in-memory, read-only set of authoritative records.
type Store struct {
	records []dns.RR
	names   map[string]struct{}
}

// Load parses path with dns.ZoneParser, which implements the RFC 1035
// master-file grammar (comments, $ORIGIN/$TTL, multi-line parenthesised
// records) for every supported record type.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("zone: %w", err)
	}
	defer f.Close()

	zp := dns.NewZoneParser(f, "", path)

	s := &Store{names: make(map[string]struct{})}

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		s.records = append(s.records, rr)
		s.names[strings.ToLower(rr.Header().Name)] = struct{}{}
	}

	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("zone: %w", err)
	}

	return s, nil
}

// LocalNames returns the set of owner names loaded from the zone file,
// lower-cased and fully qualified.
func (s *Store) LocalNames() map[string]struct{} {
	return s.names
}

// AllRecords returns every loaded RR.
func (s *Store) AllRecords() []dns.RR {
	return s.records
}

// Owns reports whether qname equals a local zone name, or ends with
// ".L" for some local zone name L — the test for whether this server is
// authoritative for the name.
func (s *Store) Owns(qname string) (zone string, ok bool) {
	qname = strings.ToLower(qname)

	if _, present := s.names[qname]; present {
		return qname, true
	}

	best := ""
	for name := range s.names {
		if strings.HasSuffix(qname, "."+name) && len(name) > len(best) {
			best = name
		}
	}

	if best != "" {
		return best, true
	}

	return "", false
}
