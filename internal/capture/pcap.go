package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/dnsniff/internal/core"
)

const defaultReplayFramesPerBlock = 64

func init() {
	Register("pcap", openPcap)
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// newPacketReader opens r as classic pcap, falling back to pcapng.
func newPacketReader(f *os.File) (packetReader, error) {
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err == nil {
		return r, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("not a pcap (%v) or pcapng (%v) file", err, ngErr)
	}
	return ng, nil
}

// replay reads a capture file once and deals blocks round-robin to its rings.
type replay struct {
	path    string
	file    *os.File
	src     packetReader
	rings   []*MemRing
	perBlk  int
	blkSize int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type replayRing struct {
	*MemRing
	replay *replay
}

func (r *replayRing) Close() error {
	r.replay.stop()
	return r.MemRing.Close()
}

func openPcap(opts Options) ([]Ring, error) {
	if opts.PcapFile == "" {
		return nil, newError("open", opts.Interface, -1, fmt.Errorf("%w: pcap backend needs a capture file", core.ErrConfigInvalid))
	}
	f, err := os.Open(opts.PcapFile)
	if err != nil {
		return nil, newError("open", opts.PcapFile, -1, err)
	}
	src, err := newPacketReader(f)
	if err != nil {
		f.Close()
		return nil, newError("open", opts.PcapFile, -1, err)
	}
	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return nil, newError("open", opts.PcapFile, -1, fmt.Errorf("%w: link type %s", core.ErrUnsupported, lt))
	}

	perBlk := opts.Geometry.FramesPerBlock()
	if perBlk <= 0 || perBlk > defaultReplayFramesPerBlock {
		perBlk = defaultReplayFramesPerBlock
	}
	blkSize := opts.Geometry.BlockSize
	if blkSize <= 0 {
		blkSize = 1 << 20
	}
	slots := opts.Geometry.BlockCount
	if slots <= 0 {
		slots = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	rp := &replay{
		path:    opts.PcapFile,
		file:    f,
		src:     src,
		perBlk:  perBlk,
		blkSize: blkSize,
		logger:  opts.Logger.With("file", opts.PcapFile),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	rings := make([]Ring, opts.Workers)
	for i := range rings {
		mr := NewMemRing(i, slots, blkSize)
		rp.rings = append(rp.rings, mr)
		rings[i] = &replayRing{MemRing: mr, replay: rp}
	}

	go rp.run()
	return rings, nil
}

func (rp *replay) run() {
	defer close(rp.done)
	defer rp.file.Close()
	defer func() {
		for _, r := range rp.rings {
			r.Finish()
		}
	}()

	var (
		batch  = make([]core.RawFrame, 0, rp.perBlk)
		bytes  int
		next   int
		frames uint64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := rp.rings[next].FillWait(rp.ctx, batch)
		next = (next + 1) % len(rp.rings)
		batch, bytes = batch[:0], 0
		return err
	}

	for {
		data, ci, err := rp.src.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				rp.logger.Warn("pcap replay stopped on read error", "error", err, "frames", frames)
			}
			break
		}
		if len(data) > rp.blkSize {
			data = data[:rp.blkSize]
		}
		if len(batch) == rp.perBlk || bytes+len(data) > rp.blkSize {
			if err := flush(); err != nil {
				return
			}
		}
		batch = append(batch, core.RawFrame{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(len(data)),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		})
		bytes += len(data)
		frames++
	}
	if err := flush(); err != nil {
		return
	}
	rp.logger.Info("pcap replay finished", "frames", frames)
}

func (rp *replay) stop() {
	rp.once.Do(func() {
		rp.cancel()
		<-rp.done
	})
}
