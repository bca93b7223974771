package capture

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"firestige.xyz/dnsniff/internal/core"
)

// Block descriptor (struct tpacket_block_desc with tpacket_hdr_v1) offsets.
const (
	bdBlockStatus   = 8
	bdNumPkts       = 12
	bdOffsetToFirst = 16
	bdBlkLen        = 20
	bdSeqNum        = 24
	blockDescLen    = 48
)

// Frame header (struct tpacket3_hdr) offsets.
const (
	fhNextOffset = 0
	fhSec        = 4
	fhNsec       = 8
	fhSnaplen    = 12
	fhLen        = 16
	fhStatus     = 20
	fhMac        = 24
	fhVLANTCI    = 32
	frameHdrLen  = 48
)

const (
	tpStatusKernel    = 0
	tpStatusUser      = 1 << 0
	tpStatusVLANValid = 1 << 4
)

// blockStatus loads block_status with acquire semantics.
func blockStatus(block []byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&block[bdBlockStatus])))
}

// setBlockStatus stores block_status with release semantics.
func setBlockStatus(block []byte, status uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&block[bdBlockStatus])), status)
}

func blockReady(block []byte) bool {
	return blockStatus(block)&tpStatusUser != 0
}

func blockSeq(block []byte) uint64 {
	return binary.NativeEndian.Uint64(block[bdSeqNum:])
}

// walkBlock appends the frames of a retired block to dst.
//
// Every offset read from the block is checked against the block bounds. The
// walk stops at the first frame header or payload that would escape them and
// returns the frames decoded so far with an error.
func walkBlock(block []byte, dst []core.RawFrame, ifindex int) ([]core.RawFrame, error) {
	if len(block) < blockDescLen {
		return dst, fmt.Errorf("%w: block of %d bytes", core.ErrInvalidHeader, len(block))
	}
	ne := binary.NativeEndian

	bound := len(block)
	if blkLen := int(ne.Uint32(block[bdBlkLen:])); blkLen >= blockDescLen && blkLen < bound {
		bound = blkLen
	}

	numPkts := int(ne.Uint32(block[bdNumPkts:]))
	off := int(ne.Uint32(block[bdOffsetToFirst:]))

	for i := 0; i < numPkts; i++ {
		if off < blockDescLen || off > bound-frameHdrLen {
			return dst, fmt.Errorf("%w: frame %d header at %d outside block of %d", core.ErrInvalidHeader, i, off, bound)
		}
		hdr := block[off : off+frameHdrLen]

		snaplen := int(ne.Uint32(hdr[fhSnaplen:]))
		mac := off + int(ne.Uint16(hdr[fhMac:]))
		if mac < off+frameHdrLen || mac > bound || snaplen > bound-mac {
			return dst, fmt.Errorf("%w: frame %d data [%d,+%d) outside block of %d", core.ErrInvalidHeader, i, mac, snaplen, bound)
		}

		frame := core.RawFrame{
			Data:           block[mac : mac+snaplen : mac+snaplen],
			Timestamp:      time.Unix(int64(ne.Uint32(hdr[fhSec:])), int64(ne.Uint32(hdr[fhNsec:]))),
			CaptureLen:     uint32(snaplen),
			OrigLen:        ne.Uint32(hdr[fhLen:]),
			InterfaceIndex: ifindex,
		}
		if ne.Uint32(hdr[fhStatus:])&tpStatusVLANValid != 0 {
			frame.VLANTCI = uint16(ne.Uint32(hdr[fhVLANTCI:]))
		}
		dst = append(dst, frame)

		next := int(ne.Uint32(hdr[fhNextOffset:]))
		if i < numPkts-1 && next == 0 {
			return dst, fmt.Errorf("%w: frame %d of %d has no successor", core.ErrInvalidHeader, i, numPkts)
		}
		off += next
	}
	return dst, nil
}
