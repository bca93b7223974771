// Package core defines the header views filled by the decoder.
package core

import "net/netip"

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16    // 0x0800=IPv4, 0x86DD=IPv6, 0x8100=VLAN
	VLANs     [2]uint16 // outer first, valid up to VLANCount
	VLANCount uint8
}

// IPHeader represents the L3 IPv4 header fields kept per event.
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr // Go stdlib value type, zero allocation
	DstIP    netip.Addr
	Protocol uint8 // UDP=17
	TTL      uint8
	TotalLen uint16
	ID       uint16
}

// TransportHeader represents the L4 UDP header.
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // Redundant storage for convenience
	Length   uint16
}
