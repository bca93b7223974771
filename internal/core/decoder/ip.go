// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/dnsniff/internal/core"
)

const (
	ipv4HeaderMinLen = 20
)

// decodeIPv4 decodes IPv4 header.
// The returned payload is trimmed to the datagram's total length so that
// Ethernet minimum-size padding never reaches the transport decoder.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	if data[0]>>4 != 4 {
		return core.IPHeader{}, nil, core.ErrInvalidHeader
	}

	// IHL (Internet Header Length) - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrInvalidHeader
	}
	if len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		TTL:      data[8],
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	end := len(data)
	if total := int(ip.TotalLen); total != 0 {
		// Zero total length shows up on locally generated segmentation-offload
		// packets; take the captured bytes as-is in that case.
		if total < headerLen {
			return ip, nil, core.ErrInvalidHeader
		}
		if total < end {
			end = total
		}
	}

	return ip, data[headerLen:end], nil
}

// isIPFragment checks if an IPv4 packet is a fragment.
func isIPFragment(ipData []byte) bool {
	if len(ipData) < ipv4HeaderMinLen {
		return false
	}
	// Flags and Fragment Offset (2 bytes at offset 6)
	flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
	moreFragments := (flagsOffset & 0x2000) != 0 // MF flag
	fragmentOffset := flagsOffset & 0x1FFF       // Fragment offset
	return moreFragments || fragmentOffset != 0
}
