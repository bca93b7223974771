// Package capture implements the kernel-backed capture rings drained by the workers.
//
// A Ring hands out one Block at a time. The frames of a Block are views into
// ring memory and stay valid until Block.Release returns the block to its producer.
package capture

import (
	"context"

	"firestige.xyz/dnsniff/internal/core"
)

// Ring is one capture ring buffer, drained by exactly one worker.
type Ring interface {
	// Index returns the position of the ring within its group.
	Index() int
	// NextBlock blocks until a populated block is available or ctx is done.
	// Finite sources return io.EOF once exhausted.
	NextBlock(ctx context.Context) (*Block, error)
	// Stats returns the counters accumulated since the previous call.
	// It is safe to call concurrently with NextBlock.
	Stats() (Stats, error)
	// Close releases the ring. It must not be called while NextBlock is running.
	Close() error
}

// Stats holds the capture counters of one ring between two reads.
// Packets includes Drops, as the kernel counts them.
type Stats struct {
	Packets      uint64
	Drops        uint64
	QueueFreezes uint64
}

// counterDiff turns cumulative 32-bit socket counters into deltas.
// Differences wrap modulo 2^32, so a counter overflow between reads is absorbed.
type counterDiff struct {
	packets, drops, freezes uint32
}

func (c *counterDiff) delta(packets, drops, freezes uint32) Stats {
	st := Stats{
		Packets:      uint64(packets - c.packets),
		Drops:        uint64(drops - c.drops),
		QueueFreezes: uint64(freezes - c.freezes),
	}
	c.packets, c.drops, c.freezes = packets, drops, freezes
	return st
}

// Block is a batch of frames owned by user space until released.
type Block struct {
	seq      uint64
	frames   []core.RawFrame
	release  func()
	released bool
}

func newBlock(seq uint64, frames []core.RawFrame, release func()) *Block {
	return &Block{seq: seq, frames: frames, release: release}
}

// Seq returns the block sequence number reported by the producer.
func (b *Block) Seq() uint64 { return b.seq }

// Len returns the number of frames in the block, 0 after release.
func (b *Block) Len() int { return len(b.frames) }

// Frames returns the frames of the block in capture order.
// It returns nil once the block has been released.
func (b *Block) Frames() []core.RawFrame {
	return b.frames
}

// Release hands the block back to its producer. Only the first call has an effect.
func (b *Block) Release() error {
	if b.released {
		return core.ErrBlockReleased
	}
	b.released = true
	b.frames = nil
	if b.release != nil {
		b.release()
	}
	return nil
}

// Released reports whether Release has been called.
func (b *Block) Released() bool { return b.released }

// blockGuard enforces the one-outstanding-block rule of a ring.
type blockGuard struct {
	cur *Block
}

func (g *blockGuard) check() error {
	if g.cur != nil && !g.cur.released {
		return core.ErrBlockOutstanding
	}
	return nil
}

func (g *blockGuard) hand(b *Block) *Block {
	g.cur = b
	return b
}
