package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/dnsniff/internal/core"
)

func init() {
	Register("tpacket", openTPacket)
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// bindAddr selects every protocol on one interface. The socket itself is
// created with protocol 0 so it receives nothing before this bind.
func bindAddr(ifindex int) *unix.SockaddrLinklayer {
	return &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifindex}
}

// tpacketRing is a TPACKET_V3 receive ring mapped from one AF_PACKET socket.
type tpacketRing struct {
	index   int
	iface   string
	ifindex int
	fd      int
	mem     []byte
	geo     Geometry
	poll    time.Duration
	logger  *slog.Logger

	cur    int // next block to inspect
	frames []core.RawFrame
	guard  blockGuard
}

func openTPacket(opts Options) ([]Ring, error) {
	pageSize := os.Getpagesize()
	if err := opts.Geometry.Validate(pageSize); err != nil {
		return nil, newError("setsockopt", opts.Interface, -1, err)
	}
	ifindex, err := lookupInterface(opts.Interface, opts.Logger)
	if err != nil {
		return nil, err
	}
	return openEach(opts, func(i int) (Ring, error) {
		return newTPacketRing(opts, ifindex, i)
	})
}

func newTPacketRing(opts Options, ifindex, index int) (_ *tpacketRing, err error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, newError("socket", opts.Interface, index, err)
	}
	r := &tpacketRing{
		index:   index,
		iface:   opts.Interface,
		ifindex: ifindex,
		fd:      fd,
		geo:     opts.Geometry,
		poll:    opts.PollTimeout,
		logger:  opts.Logger.With("ring", index),
		frames:  make([]core.RawFrame, 0, opts.Geometry.FramesPerBlock()),
	}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V3); err != nil {
		return nil, newError("setsockopt", r.iface, index, err)
	}

	req := unix.TpacketReq3{
		Block_size:       uint32(r.geo.BlockSize),
		Block_nr:         uint32(r.geo.BlockCount),
		Frame_size:       uint32(r.geo.FrameSize),
		Frame_nr:         uint32(r.geo.BlockCount * r.geo.FramesPerBlock()),
		Retire_blk_tov:   uint32(r.geo.BlockTimeout.Milliseconds()),
		Feature_req_word: 0,
	}
	if err := unix.SetsockoptTpacketReq3(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &req); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOMEM) {
			err = fmt.Errorf("%w: %w", core.ErrRingGeometry, err)
		}
		return nil, newError("setsockopt", r.iface, index, err)
	}

	mem, err := unix.Mmap(fd, 0, r.geo.Size(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return nil, newError("mmap", r.iface, index, err)
	}
	r.mem = mem

	if len(opts.Filter) > 0 {
		if err := attachFilter(fd, opts.Filter); err != nil {
			return nil, newError("filter", r.iface, index, err)
		}
	}

	if err := unix.Bind(fd, bindAddr(ifindex)); err != nil {
		if errors.Is(err, unix.ENODEV) {
			err = fmt.Errorf("%w: %w", core.ErrInterfaceNotFound, err)
		}
		return nil, newError("bind", r.iface, index, err)
	}

	arg := fanoutArg(opts.FanoutID, opts.Fanout, opts.Defrag)
	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_FANOUT, arg); err != nil {
		return nil, newError("fanout", r.iface, index, err)
	}

	// Discard counters accumulated before the ring joined the group.
	if _, err := unix.GetsockoptTpacketStatsV3(fd, unix.SOL_PACKET, unix.PACKET_STATISTICS); err != nil {
		r.logger.Debug("initial statistics read failed", "error", err)
	}
	return r, nil
}

func attachFilter(fd int, raw []bpf.RawInstruction) error {
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}

func (r *tpacketRing) Index() int { return r.index }

func (r *tpacketRing) blockAt(i int) []byte {
	off := i * r.geo.BlockSize
	return r.mem[off : off+r.geo.BlockSize : off+r.geo.BlockSize]
}

// NextBlock returns the next block retired by the kernel, polling the socket
// in poll timeout steps until one is ready or ctx is done.
func (r *tpacketRing) NextBlock(ctx context.Context) (*Block, error) {
	if err := r.guard.check(); err != nil {
		return nil, err
	}
	if r.mem == nil {
		return nil, core.ErrRingClosed
	}
	pfd := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN | unix.POLLERR}}
	timeout := int(r.poll.Milliseconds())
	if timeout <= 0 {
		timeout = 100
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk := r.blockAt(r.cur)
		if blockReady(blk) {
			return r.take(blk), nil
		}
		if _, err := unix.Poll(pfd, timeout); err != nil && !errors.Is(err, unix.EINTR) {
			return nil, newError("poll", r.iface, r.index, err)
		}
	}
}

func (r *tpacketRing) take(blk []byte) *Block {
	frames, err := walkBlock(blk, r.frames[:0], r.ifindex)
	if err != nil {
		r.logger.Debug("block walk stopped early", "error", err, "frames", len(frames))
	}
	r.frames = frames
	return r.guard.hand(newBlock(blockSeq(blk), frames, func() {
		setBlockStatus(blk, tpStatusKernel)
		r.cur = (r.cur + 1) % r.geo.BlockCount
	}))
}

// Stats reads PACKET_STATISTICS, which the kernel resets on every read.
func (r *tpacketRing) Stats() (Stats, error) {
	st, err := unix.GetsockoptTpacketStatsV3(r.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS)
	if err != nil {
		return Stats{}, newError("stats", r.iface, r.index, err)
	}
	return Stats{
		Packets:      uint64(st.Packets),
		Drops:        uint64(st.Drops),
		QueueFreezes: uint64(st.Freeze_q_cnt),
	}, nil
}

func (r *tpacketRing) Close() error {
	var errs []error
	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			errs = append(errs, err)
		}
		r.mem = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			errs = append(errs, err)
		}
		r.fd = -1
	}
	if err := errors.Join(errs...); err != nil {
		return newError("close", r.iface, r.index, err)
	}
	return nil
}
