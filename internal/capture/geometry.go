package capture

import (
	"fmt"
	"time"

	"firestige.xyz/dnsniff/internal/core"
)

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	// tpacket3HdrLen is TPACKET_ALIGN(sizeof(struct tpacket3_hdr)) + sizeof(struct sockaddr_ll).
	tpacket3HdrLen = 68

	maxBlockSize = 4 * 1024 * 1024
)

// Geometry describes the layout of one ring's mapped region.
type Geometry struct {
	BlockSize    int
	BlockCount   int
	FrameSize    int
	BlockTimeout time.Duration // retire timeout of a partially filled block
}

// Size returns the total mapped size in bytes.
func (g Geometry) Size() int { return g.BlockSize * g.BlockCount }

// FramesPerBlock returns the nominal frame capacity of a block.
func (g Geometry) FramesPerBlock() int {
	if g.FrameSize == 0 {
		return 0
	}
	return g.BlockSize / g.FrameSize
}

// Validate checks the layout rules of PACKET_MMAP rings.
func (g Geometry) Validate(pageSize int) error {
	switch {
	case pageSize <= 0:
		return fmt.Errorf("%w: page size %d", core.ErrRingGeometry, pageSize)
	case g.BlockCount < 1:
		return fmt.Errorf("%w: block count %d", core.ErrRingGeometry, g.BlockCount)
	case g.BlockSize <= 0 || g.BlockSize%pageSize != 0:
		return fmt.Errorf("%w: block size %d is not a multiple of page size %d", core.ErrRingGeometry, g.BlockSize, pageSize)
	case g.FrameSize < tpacket3HdrLen || g.FrameSize%tpacketAlignment != 0:
		return fmt.Errorf("%w: frame size %d must be a multiple of %d and at least %d", core.ErrRingGeometry, g.FrameSize, tpacketAlignment, tpacket3HdrLen)
	case g.BlockSize%g.FrameSize != 0:
		return fmt.Errorf("%w: block size %d is not a multiple of frame size %d", core.ErrRingGeometry, g.BlockSize, g.FrameSize)
	case g.BlockTimeout < 0:
		return fmt.Errorf("%w: negative block timeout", core.ErrRingGeometry)
	}
	return nil
}

// ComputeGeometry derives a valid geometry for a ring of about bufferMB
// megabytes holding frames of up to snapLen bytes.
//
// The frame size is the aligned header plus snapLen. The block size is the
// least common multiple of the page and frame sizes; when that exceeds 4 MiB
// the frame is padded to whole pages instead.
func ComputeGeometry(bufferMB, snapLen, pageSize int) (Geometry, error) {
	if bufferMB <= 0 {
		return Geometry{}, fmt.Errorf("%w: buffer size must be positive, got %d MB", core.ErrRingGeometry, bufferMB)
	}
	if snapLen <= 0 {
		return Geometry{}, fmt.Errorf("%w: snap length must be positive, got %d", core.ErrRingGeometry, snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return Geometry{}, fmt.Errorf("%w: page size must be a positive multiple of %d, got %d", core.ErrRingGeometry, tpacketAlignment, pageSize)
	}

	frameSize := alignUp(tpacket3HdrLen+snapLen, tpacketAlignment)

	blockSize := lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Grow frames to whole pages so any page multiple holds whole frames.
		frameSize = alignUp(frameSize, pageSize)
		blockSize = frameSize
		if n := maxBlockSize / frameSize; n > 1 {
			blockSize = n * frameSize
		}
	}

	numBlocks := bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	g := Geometry{BlockSize: blockSize, BlockCount: numBlocks, FrameSize: frameSize}
	return g, g.Validate(pageSize)
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// gcd computes the greatest common divisor of two integers
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm computes the least common multiple of two integers
func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
