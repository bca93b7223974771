package worker

import "sync/atomic"

// Metrics contains per-worker counters. Each counter has a single writer,
// the worker goroutine; readers may load them at any time.
type Metrics struct {
	Blocks     atomic.Uint64
	Frames     atomic.Uint64
	Matched    atomic.Uint64
	Ignored    atomic.Uint64
	Malformed  atomic.Uint64
	SinkErrors atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Blocks     uint64
	Frames     uint64
	Matched    uint64
	Ignored    uint64
	Malformed  uint64
	SinkErrors uint64
}

// Snapshot loads every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Blocks:     m.Blocks.Load(),
		Frames:     m.Frames.Load(),
		Matched:    m.Matched.Load(),
		Ignored:    m.Ignored.Load(),
		Malformed:  m.Malformed.Load(),
		SinkErrors: m.SinkErrors.Load(),
	}
}
