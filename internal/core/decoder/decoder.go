// Package decoder implements the Ethernet → IPv4 → UDP → DNS decode chain.
package decoder

import (
	"slices"

	"firestige.xyz/dnsniff/internal/core"
)

// DefaultDNSPort is the port matched when no ports are configured.
const DefaultDNSPort = 53

// Verdict classifies a decoded frame.
type Verdict uint8

const (
	// NotOfInterest means a layer did not match the filter (non-IPv4, non-UDP, other ports).
	NotOfInterest Verdict = iota
	// Matched means the frame carried a DNS message within the filter.
	Matched
	// Malformed means a header was truncated/invalid or the DNS payload failed to parse.
	Malformed
)

func (v Verdict) String() string {
	switch v {
	case NotOfInterest:
		return "not_of_interest"
	case Matched:
		return "matched"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Decoder decodes raw frames into DNS events.
type Decoder interface {
	Decode(frame core.RawFrame, ev *core.DNSEvent) (Verdict, error)
}

// Config contains decoder configuration.
type Config struct {
	Ports      []uint16 // UDP ports treated as DNS, default [53]
	LinkOffset int      // bytes to skip before the Ethernet header
	StripVLAN  bool     // unwrap 802.1Q/802.1ad tags before the EtherType check
}

// StandardDecoder is the allocation-free L2-L4 decoder backed by miekg/dns for the payload.
// It holds no mutable state and is safe for concurrent use.
type StandardDecoder struct {
	ports      []uint16
	linkOffset int
	stripVLAN  bool
}

// NewStandardDecoder creates a decoder from cfg.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	ports := slices.Clone(cfg.Ports)
	if len(ports) == 0 {
		ports = []uint16{DefaultDNSPort}
	}
	offset := cfg.LinkOffset
	if offset < 0 {
		offset = 0
	}
	return &StandardDecoder{
		ports:      ports,
		linkOffset: offset,
		stripVLAN:  cfg.StripVLAN,
	}
}

// Decode runs the layered decode over frame, filling ev.
// Each layer short-circuits: a non-matching layer returns NotOfInterest, a
// truncated or invalid one returns Malformed with a sentinel error.
// On a DNS parse failure the headers stay populated and ev.Err is set.
func (d *StandardDecoder) Decode(frame core.RawFrame, ev *core.DNSEvent) (Verdict, error) {
	ev.Reset()
	ev.Timestamp = frame.Timestamp
	ev.CaptureLen = frame.CaptureLen
	ev.OrigLen = frame.OrigLen

	// Step 1: skip the capture facility's link-layer prefix
	if len(frame.Data) < d.linkOffset {
		return Malformed, core.ErrPacketTooShort
	}
	data := frame.Data[d.linkOffset:]

	// Step 2: Ethernet
	eth, payload, err := decodeEthernet(data, d.stripVLAN)
	if err != nil {
		return Malformed, err
	}
	ev.Ethernet = eth
	if eth.EtherType != etherTypeIPv4 {
		return NotOfInterest, nil
	}

	// Step 3: IPv4
	ip, payload2, err := decodeIPv4(payload)
	if err != nil {
		return Malformed, err
	}
	ev.IP = ip
	if ip.Protocol != protocolUDP || isIPFragment(payload) {
		return NotOfInterest, nil
	}

	// Step 4: UDP
	udp, rest, err := decodeUDP(payload2)
	if err != nil {
		return Malformed, err
	}
	ev.Transport = udp
	if !d.interesting(udp.SrcPort, udp.DstPort) {
		return NotOfInterest, nil
	}
	dnsPayload, err := udpPayload(rest, udp.Length)
	if err != nil {
		return Malformed, err
	}

	// Step 5: DNS
	msg, err := decodeDNS(dnsPayload)
	if err != nil {
		ev.Err = err
		return Malformed, err
	}
	ev.Msg = msg
	return Matched, nil
}

func (d *StandardDecoder) interesting(src, dst uint16) bool {
	for _, p := range d.ports {
		if src == p || dst == p {
			return true
		}
	}
	return false
}
