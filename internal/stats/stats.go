// Package stats aggregates per-ring capture counters into periodic telemetry.
package stats

import (
	"context"
	"log/slog"
	"time"

	"firestige.xyz/dnsniff/internal/capture"
)

// Source is a ring whose kernel counters can be read.
type Source interface {
	Index() int
	Stats() (capture.Stats, error)
}

// Reporter receives one Snapshot per tick.
type Reporter interface {
	Report(s Snapshot)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Snapshot)

func (f ReporterFunc) Report(s Snapshot) { f(s) }

// RingSample is the reading of one ring during a tick.
type RingSample struct {
	Ring int
	capture.Stats
	Err error // read failure, the counters are zero
}

// Totals are cumulative counters across all rings and ticks.
type Totals struct {
	Packets uint64
	Drops   uint64
}

// DropPercent returns 100 * Drops / Packets, or 0 when nothing was received.
func (t Totals) DropPercent() float64 {
	return dropPercent(t.Drops, t.Packets)
}

// Snapshot is the outcome of one tick.
type Snapshot struct {
	At           time.Time
	Packets      uint64 // since the previous tick
	Drops        uint64
	QueueFreezes uint64
	Totals       Totals
	Skipped      int // rings whose counters could not be read
	PerRing      []RingSample
}

// DropPercent returns the cumulative drop percentage.
func (s Snapshot) DropPercent() float64 {
	return s.Totals.DropPercent()
}

func dropPercent(drops, packets uint64) float64 {
	if packets == 0 {
		return 0
	}
	return float64(drops) / float64(packets) * 100
}

// Aggregator polls every source and accumulates totals. Tick must not run
// concurrently with itself or with Run.
type Aggregator struct {
	sources   []Source
	reporters []Reporter
	logger    *slog.Logger
	totals    Totals
}

// New creates an aggregator over sources.
func New(sources []Source, reporters ...Reporter) *Aggregator {
	return &Aggregator{
		sources:   sources,
		reporters: reporters,
		logger:    slog.Default().With("component", "stats"),
	}
}

// Totals returns the cumulative counters.
func (a *Aggregator) Totals() Totals { return a.totals }

// Tick reads every source once and reports the result.
func (a *Aggregator) Tick(now time.Time) Snapshot {
	s := Snapshot{
		At:      now,
		PerRing: make([]RingSample, 0, len(a.sources)),
	}
	for _, src := range a.sources {
		st, err := src.Stats()
		if err != nil {
			s.Skipped++
			s.PerRing = append(s.PerRing, RingSample{Ring: src.Index(), Err: err})
			a.logger.Warn("read ring statistics failed", "ring", src.Index(), "error", err)
			continue
		}
		s.Packets += st.Packets
		s.Drops += st.Drops
		s.QueueFreezes += st.QueueFreezes
		s.PerRing = append(s.PerRing, RingSample{Ring: src.Index(), Stats: st})
	}
	a.totals.Packets += s.Packets
	a.totals.Drops += s.Drops
	s.Totals = a.totals

	for _, r := range a.reporters {
		r.Report(s)
	}
	return s
}

// Run ticks every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			a.Tick(now)
		}
	}
}
