package capture

import (
	"context"
	"io"
	"sync"

	"firestige.xyz/dnsniff/internal/core"
)

// MemRing is an in-memory ring with a fixed number of slots. Fill plays the
// kernel side: it copies frames into a free slot and publishes it. A slot
// returns to the free list when its block is released.
type MemRing struct {
	index    int
	slotSize int

	free  chan *memSlot
	ready chan *memSlot

	finished   chan struct{}
	closed     chan struct{}
	finishOnce sync.Once
	closeOnce  sync.Once

	guard blockGuard

	// producer side
	fillMu  sync.Mutex
	seq     uint64
	packets uint64
	drops   uint64
}

type memSlot struct {
	seq    uint64
	buf    []byte
	frames []core.RawFrame
}

// NewMemRing creates a ring of slots blocks, each holding up to slotSize bytes of frame data.
func NewMemRing(index, slots, slotSize int) *MemRing {
	if slots < 1 {
		slots = 1
	}
	r := &MemRing{
		index:    index,
		slotSize: slotSize,
		free:     make(chan *memSlot, slots),
		ready:    make(chan *memSlot, slots),
		finished: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for i := 0; i < slots; i++ {
		r.free <- &memSlot{buf: make([]byte, 0, slotSize)}
	}
	return r
}

// Index implements Ring.
func (r *MemRing) Index() int { return r.index }

// Fill copies frames into a free slot. When no slot is free the frames are
// counted as drops and Fill returns false.
func (r *MemRing) Fill(frames []core.RawFrame) bool {
	select {
	case s := <-r.free:
		r.publish(s, frames)
		return true
	default:
		r.fillMu.Lock()
		r.packets += uint64(len(frames))
		r.drops += uint64(len(frames))
		r.fillMu.Unlock()
		return false
	}
}

// FillWait copies frames into the next free slot, waiting for one if needed.
func (r *MemRing) FillWait(ctx context.Context, frames []core.RawFrame) error {
	select {
	case s := <-r.free:
		r.publish(s, frames)
		return nil
	case <-r.closed:
		return core.ErrRingClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *MemRing) publish(s *memSlot, frames []core.RawFrame) {
	r.fillMu.Lock()
	defer r.fillMu.Unlock()

	s.buf = s.buf[:0]
	s.frames = s.frames[:0]
	var dropped uint64
	for _, f := range frames {
		if len(s.buf)+len(f.Data) > r.slotSize {
			dropped++
			continue
		}
		start := len(s.buf)
		s.buf = append(s.buf, f.Data...)
		f.Data = s.buf[start:len(s.buf):len(s.buf)]
		s.frames = append(s.frames, f)
	}
	r.seq++
	s.seq = r.seq
	r.packets += uint64(len(frames))
	r.drops += dropped
	r.ready <- s
}

// Finish marks the end of input. NextBlock returns io.EOF once the published
// slots are drained.
func (r *MemRing) Finish() {
	r.finishOnce.Do(func() { close(r.finished) })
}

// NextBlock implements Ring.
func (r *MemRing) NextBlock(ctx context.Context) (*Block, error) {
	if err := r.guard.check(); err != nil {
		return nil, err
	}
	select {
	case s := <-r.ready:
		return r.block(s), nil
	default:
	}
	select {
	case s := <-r.ready:
		return r.block(s), nil
	case <-r.finished:
		select {
		case s := <-r.ready:
			return r.block(s), nil
		default:
			return nil, io.EOF
		}
	case <-r.closed:
		return nil, core.ErrRingClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *MemRing) block(s *memSlot) *Block {
	return r.guard.hand(newBlock(s.seq, s.frames, func() {
		r.free <- s
	}))
}

// Stats implements Ring.
func (r *MemRing) Stats() (Stats, error) {
	select {
	case <-r.closed:
		return Stats{}, core.ErrRingClosed
	default:
	}
	r.fillMu.Lock()
	defer r.fillMu.Unlock()
	st := Stats{Packets: r.packets, Drops: r.drops}
	r.packets, r.drops = 0, 0
	return st, nil
}

// Close implements Ring.
func (r *MemRing) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
