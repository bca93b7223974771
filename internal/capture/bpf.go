package capture

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// maxFilterPorts keeps every jump of the port chains within the 8-bit skip range.
const maxFilterPorts = 64

// DNSFilterProgram builds a classic BPF program accepting unfragmented
// untagged IPv4/UDP frames whose source or destination port is in ports.
// Accepted frames are truncated to snaplen bytes.
func DNSFilterProgram(ports []uint16, snaplen uint32) ([]bpf.Instruction, error) {
	n := len(ports)
	if n == 0 || n > maxFilterPorts {
		return nil, fmt.Errorf("filter needs between 1 and %d ports, got %d", maxFilterPorts, n)
	}
	if snaplen == 0 {
		snaplen = 0xffff
	}

	reject := 9 + 2*n
	accept := reject + 1
	skipTo := func(from, to int) uint8 { return uint8(to - from - 1) }

	prog := make([]bpf.Instruction, 0, accept+1)
	prog = append(prog,
		bpf.LoadAbsolute{Off: 12, Size: 2}, // EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: skipTo(1, reject)},
		bpf.LoadAbsolute{Off: 23, Size: 1}, // IPv4 protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: skipTo(3, reject)},
		bpf.LoadAbsolute{Off: 20, Size: 2}, // flags + fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x3fff, SkipTrue: skipTo(5, reject)},
		bpf.LoadMemShift{Off: 14}, // X = IHL*4
		bpf.LoadIndirect{Off: 14, Size: 2}, // UDP source port
	)
	for _, p := range ports {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(prog), accept)})
	}
	prog = append(prog, bpf.LoadIndirect{Off: 16, Size: 2}) // UDP destination port
	for _, p := range ports {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(prog), accept)})
	}
	prog = append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: snaplen},
	)
	return prog, nil
}

// DNSFilter assembles DNSFilterProgram for attaching to a socket.
func DNSFilter(ports []uint16, snaplen uint32) ([]bpf.RawInstruction, error) {
	prog, err := DNSFilterProgram(ports, snaplen)
	if err != nil {
		return nil, err
	}
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("assemble filter: %w", err)
	}
	return raw, nil
}
