// Package core defines the frame and event structures shared by capture, decode and sinks.
package core

import (
	"time"

	"github.com/miekg/dns"
)

// RawFrame is one captured link-layer frame, a zero-copy view into a capture block.
// Data is only valid until the owning block is released.
type RawFrame struct {
	Data           []byte    // Frame bytes starting at the link-layer header
	Timestamp      time.Time // Kernel capture timestamp
	CaptureLen     uint32    // Bytes captured (len(Data))
	OrigLen        uint32    // Original frame length on the wire
	InterfaceIndex int
	VLANTCI        uint16 // VLAN tag stripped by the NIC, 0 when none
}

// DNSEvent is the result of decoding an in-filter frame.
// It never references block memory: header fields are values and Msg owns its data.
type DNSEvent struct {
	Timestamp  time.Time
	Ring       int // index of the ring/worker that captured the frame
	CaptureLen uint32
	OrigLen    uint32

	Ethernet  EthernetHeader
	IP        IPHeader
	Transport TransportHeader

	Msg *dns.Msg // nil when Err is set
	Err error    // DNS decode failure, wraps ErrInvalidDNS
}

// Reset clears the event for reuse by the next frame.
func (e *DNSEvent) Reset() {
	*e = DNSEvent{}
}

// Malformed reports whether the UDP payload failed to parse as DNS.
func (e *DNSEvent) Malformed() bool {
	return e.Err != nil
}
