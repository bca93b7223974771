package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestHtons(t *testing.T) {
	assert.Equal(t, uint16(0x0300), htons(unix.ETH_P_ALL))
	assert.Equal(t, uint16(0x0008), htons(0x0800))
}

func TestBindAddr(t *testing.T) {
	sa := bindAddr(7)
	assert.Equal(t, 7, sa.Ifindex)
	assert.Equal(t, htons(unix.ETH_P_ALL), sa.Protocol)
}
