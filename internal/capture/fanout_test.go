package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFanoutMode(t *testing.T) {
	tests := map[string]FanoutMode{
		"hash":     FanoutHash,
		"lb":       FanoutLB,
		"LB":       FanoutLB,
		"cpu":      FanoutCPU,
		"rollover": FanoutRollover,
		"random":   FanoutRandom,
		"qm":       FanoutQM,
	}
	for in, want := range tests {
		got, err := ParseFanoutMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFanoutMode("roundrobin")
	assert.Error(t, err)
}

func TestFanoutModeValues(t *testing.T) {
	// PACKET_FANOUT_* values from linux/if_packet.h
	assert.Equal(t, 0, int(FanoutHash))
	assert.Equal(t, 1, int(FanoutLB))
	assert.Equal(t, 2, int(FanoutCPU))
	assert.Equal(t, 3, int(FanoutRollover))
	assert.Equal(t, 4, int(FanoutRandom))
	assert.Equal(t, 5, int(FanoutQM))
	assert.Equal(t, "lb", FanoutLB.String())
}

func TestFanoutArg(t *testing.T) {
	assert.Equal(t, 0x0001002A, fanoutArg(42, FanoutLB, false))
	assert.Equal(t, 0x8000002A, fanoutArg(42, FanoutHash, true))
	assert.NotZero(t, DefaultFanoutID())
}
