//go:build linux && cgo

package capture

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/dnsniff/internal/core"
)

func init() {
	Register("afpacket", openAFPacket)
}

// afpacketRing wraps a gopacket TPacket. Each block carries one frame whose
// data stays valid until the next NextBlock call.
type afpacketRing struct {
	index   int
	iface   string
	ifindex int
	handle  *afpacket.TPacket
	logger  *slog.Logger

	guard blockGuard
	seq   uint64
	frame [1]core.RawFrame

	statsMu sync.Mutex
	last    counterDiff
}

func openAFPacket(opts Options) ([]Ring, error) {
	if err := opts.Geometry.Validate(os.Getpagesize()); err != nil {
		return nil, newError("setsockopt", opts.Interface, -1, err)
	}
	ifindex, err := lookupInterface(opts.Interface, opts.Logger)
	if err != nil {
		return nil, err
	}
	return openEach(opts, func(i int) (Ring, error) {
		return newAFPacketRing(opts, ifindex, i)
	})
}

func newAFPacketRing(opts Options, ifindex, index int) (*afpacketRing, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Interface),
		afpacket.OptFrameSize(opts.Geometry.FrameSize),
		afpacket.OptBlockSize(opts.Geometry.BlockSize),
		afpacket.OptNumBlocks(opts.Geometry.BlockCount),
		afpacket.OptBlockTimeout(opts.Geometry.BlockTimeout),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, newError("socket", opts.Interface, index, err)
	}

	ft := afpacket.FanoutType(fanoutType(opts.Fanout, opts.Defrag))
	if err := tp.SetFanout(ft, opts.FanoutID); err != nil {
		tp.Close()
		return nil, newError("fanout", opts.Interface, index, err)
	}
	if len(opts.Filter) > 0 {
		if err := tp.SetBPF(opts.Filter); err != nil {
			tp.Close()
			return nil, newError("filter", opts.Interface, index, err)
		}
	}
	if err := tp.InitSocketStats(); err != nil {
		opts.Logger.Warn("failed to init socket stats", "ring", index, "error", err)
	}

	return &afpacketRing{
		index:   index,
		iface:   opts.Interface,
		ifindex: ifindex,
		handle:  tp,
		logger:  opts.Logger.With("ring", index),
	}, nil
}

func (r *afpacketRing) Index() int { return r.index }

// NextBlock reads one frame. Poll timeouts are retried after a ctx check.
func (r *afpacketRing) NextBlock(ctx context.Context) (*Block, error) {
	if err := r.guard.check(); err != nil {
		return nil, err
	}
	if r.handle == nil {
		return nil, core.ErrRingClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ci, err := r.handle.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, newError("read", r.iface, r.index, err)
		}
		r.seq++
		r.frame[0] = core.RawFrame{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: r.ifindex,
		}
		return r.guard.hand(newBlock(r.seq, r.frame[:], nil)), nil
	}
}

// Stats converts the cumulative socket counters into deltas.
func (r *afpacketRing) Stats() (Stats, error) {
	if r.handle == nil {
		return Stats{}, core.ErrRingClosed
	}
	_, v3, err := r.handle.SocketStats()
	if err != nil {
		return Stats{}, newError("stats", r.iface, r.index, err)
	}
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	return r.last.delta(uint32(v3.Packets()), uint32(v3.Drops()), uint32(v3.QueueFreezes())), nil
}

func (r *afpacketRing) Close() error {
	if r.handle == nil {
		return nil
	}
	r.handle.Close()
	r.handle = nil
	return nil
}

