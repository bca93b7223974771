package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs a set of workers together.
type Pool struct {
	workers []*Worker
}

// NewPool groups workers into a pool.
func NewPool(workers ...*Worker) *Pool {
	return &Pool{workers: workers}
}

// Workers returns the workers of the pool.
func (p *Pool) Workers() []*Worker { return p.workers }

// Run starts every worker and waits for all of them. The first worker
// failure cancels the others and is returned.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}

// Totals sums the counters of every worker.
func (p *Pool) Totals() MetricsSnapshot {
	var t MetricsSnapshot
	for _, w := range p.workers {
		s := w.metrics.Snapshot()
		t.Blocks += s.Blocks
		t.Frames += s.Frames
		t.Matched += s.Matched
		t.Ignored += s.Ignored
		t.Malformed += s.Malformed
		t.SinkErrors += s.SinkErrors
	}
	return t
}
