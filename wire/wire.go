// Package wire encodes and decodes DNS messages on the byte boundary.
//
// It is a thin wrapper around github.com/miekg/dns's Pack and Unpack, which
// already implement RFC 1035 name compression and reject truncated
// headers, label-length violations, and section-count mismatches, so
// there is no reason to hand-roll that parsing here.
package wire

import (
	"errors"

	"github.com/miekg/dns"
)

// ErrMalformed is returned for any datagram that fails to parse: header
// truncation, label-length violations, or section-count mismatches.
var ErrMalformed = errors.New("wire: malformed message")

// MaxDatagramSize is the receive buffer size; a UDP datagram larger than
// this is treated as malformed.
const MaxDatagramSize = 65535

// Decode parses a byte buffer into a DNS message.
func Decode(buf []byte) (*dns.Msg, error) {
	if len(buf) > MaxDatagramSize {
		return nil, ErrMalformed
	}

	m := new(dns.Msg)
	if err := m.Unpack(buf); err != nil {
		return nil, ErrMalformed
	}

	return m, nil
}

// Encode serialises a message back to bytes. Round-tripping the result
// through Decode yields a message equal to m at the field level.
func Encode(m *dns.Msg) ([]byte, error) {
	buf, err := m.Pack()
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}

	return buf, nil
}
