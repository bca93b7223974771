package capture

import (
	"fmt"
	"os"
	"strings"
)

// FanoutMode selects how the kernel spreads frames across the rings of a group.
// Values match PACKET_FANOUT_*.
type FanoutMode int

const (
	FanoutHash FanoutMode = iota
	FanoutLB
	FanoutCPU
	FanoutRollover
	FanoutRandom
	FanoutQM
)

const fanoutFlagDefrag = 0x8000 // PACKET_FANOUT_FLAG_DEFRAG

var fanoutNames = []string{"hash", "lb", "cpu", "rollover", "random", "qm"}

// ParseFanoutMode parses a mode name (hash, lb, cpu, rollover, random, qm).
func ParseFanoutMode(s string) (FanoutMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range fanoutNames {
		if s == name {
			return FanoutMode(i), nil
		}
	}
	if s == "loadbalance" || s == "load_balance" {
		return FanoutLB, nil
	}
	return 0, fmt.Errorf("unknown fanout mode %q (want one of %s)", s, strings.Join(fanoutNames, ", "))
}

func (m FanoutMode) String() string {
	if m >= 0 && int(m) < len(fanoutNames) {
		return fanoutNames[m]
	}
	return fmt.Sprintf("fanout(%d)", int(m))
}

// fanoutType returns the type half of the PACKET_FANOUT argument.
// The defrag flag makes the kernel reassemble IP fragments before any mode dispatches.
func fanoutType(mode FanoutMode, defrag bool) int {
	t := int(mode)
	if defrag {
		t |= fanoutFlagDefrag
	}
	return t
}

// fanoutArg encodes the PACKET_FANOUT socket option value.
func fanoutArg(id uint16, mode FanoutMode, defrag bool) int {
	return int(id) | fanoutType(mode, defrag)<<16
}

// DefaultFanoutID derives a group id from the process id so that two
// instances on one host do not join each other's group.
func DefaultFanoutID() uint16 {
	id := uint16(os.Getpid() & 0xffff)
	if id == 0 {
		id = 1
	}
	return id
}
