// Package worker drains capture rings through the decoder into a sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"firestige.xyz/dnsniff/internal/capture"
	"firestige.xyz/dnsniff/internal/core"
	"firestige.xyz/dnsniff/internal/core/decoder"
)

// Emitter receives decoded events. The event is owned by the callee.
type Emitter interface {
	Emit(ev *core.DNSEvent) error
}

// Config contains worker configuration.
type Config struct {
	Ring          capture.Ring
	Decoder       decoder.Decoder
	Sink          Emitter
	EmitMalformed bool
	Logger        *slog.Logger
}

// Worker owns one ring for its whole life.
type Worker struct {
	index         int
	ring          capture.Ring
	decoder       decoder.Decoder
	sink          Emitter
	emitMalformed bool
	logger        *slog.Logger
	metrics       Metrics

	scratch core.DNSEvent
}

// New creates a worker for cfg.Ring.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		index:         cfg.Ring.Index(),
		ring:          cfg.Ring,
		decoder:       cfg.Decoder,
		sink:          cfg.Sink,
		emitMalformed: cfg.EmitMalformed,
		logger:        logger.With("component", "worker", "ring", cfg.Ring.Index()),
	}
}

// Index returns the index of the ring the worker drains.
func (w *Worker) Index() int { return w.index }

// Metrics returns the worker counters.
func (w *Worker) Metrics() *Metrics { return &w.metrics }

// Run pins the goroutine to an OS thread and drains blocks until ctx is done
// or the ring is exhausted. Only ring failures end it with an error.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")

	for {
		blk, err := w.ring.NextBlock(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", w.index, err)
		}
		w.drain(blk)
	}
}

// drain processes every frame of blk, then releases it.
func (w *Worker) drain(blk *capture.Block) {
	defer func() {
		if err := blk.Release(); err != nil {
			w.logger.Warn("block release failed", "seq", blk.Seq(), "error", err)
		}
	}()

	w.metrics.Blocks.Add(1)
	for _, frame := range blk.Frames() {
		w.handle(frame)
	}
}

func (w *Worker) handle(frame core.RawFrame) {
	w.metrics.Frames.Add(1)

	ev := &w.scratch
	verdict, err := w.decoder.Decode(frame, ev)
	switch verdict {
	case decoder.Matched:
		w.metrics.Matched.Add(1)
	case decoder.Malformed:
		w.metrics.Malformed.Add(1)
		if w.logger.Enabled(context.Background(), slog.LevelDebug) {
			w.logger.Debug("malformed frame", "error", err, "len", frame.CaptureLen)
		}
		// Header-level failures never reached the DNS stage and carry no message.
		if !w.emitMalformed || !ev.Malformed() {
			return
		}
	default:
		w.metrics.Ignored.Add(1)
		return
	}

	out := *ev
	out.Ring = w.index
	if err := w.sink.Emit(&out); err != nil {
		w.metrics.SinkErrors.Add(1)
		w.logger.Debug("sink emit failed", "error", err)
	}
}
