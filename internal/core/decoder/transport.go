// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/dnsniff/internal/core"
)

const (
	udpHeaderLen = 8

	// Protocol numbers
	protocolTCP = 6
	protocolUDP = 17
)

// decodeUDP decodes UDP header.
// Returns TransportHeader and the bytes following the header; the length
// field is checked separately by udpPayload once the ports are known to matter.
func decodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	transport := core.TransportHeader{
		Protocol: protocolUDP,
	}

	// Source Port (2 bytes at offset 0)
	transport.SrcPort = binary.BigEndian.Uint16(data[0:2])

	// Destination Port (2 bytes at offset 2)
	transport.DstPort = binary.BigEndian.Uint16(data[2:4])

	// Length (2 bytes at offset 4) - includes header and data
	// Checksum (2 bytes at offset 6) - not needed for decoding
	transport.Length = binary.BigEndian.Uint16(data[4:6])

	return transport, data[udpHeaderLen:], nil
}

// udpPayload trims rest (the bytes after the UDP header) to the datagram
// length. A capture shorter than the length field keeps what was captured.
func udpPayload(rest []byte, length uint16) ([]byte, error) {
	if length < udpHeaderLen {
		return nil, core.ErrInvalidHeader
	}
	if n := int(length) - udpHeaderLen; n < len(rest) {
		return rest[:n], nil
	}
	return rest, nil
}
