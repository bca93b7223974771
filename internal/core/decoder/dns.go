// Package decoder implements protocol decoding.
package decoder

import (
	"fmt"

	"github.com/miekg/dns"

	"firestige.xyz/dnsniff/internal/core"
)

// decodeDNS parses a UDP payload as a DNS message.
// miekg/dns copies names and rdata out of payload, so the message outlives the capture block.
func decodeDNS(payload []byte) (*dns.Msg, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDNS, err)
	}
	return msg, nil
}
