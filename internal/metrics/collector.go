package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/dnsniff/internal/worker"
)

// WorkerCollector implements prometheus.Collector, reading worker counters on each scrape.
type WorkerCollector struct {
	workers []*worker.Worker

	blocks     *prometheus.Desc
	frames     *prometheus.Desc
	matched    *prometheus.Desc
	ignored    *prometheus.Desc
	malformed  *prometheus.Desc
	sinkErrors *prometheus.Desc
}

// NewWorkerCollector creates a collector over workers.
func NewWorkerCollector(workers []*worker.Worker) *WorkerCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("dnsniff_worker_"+name, help, []string{"worker"}, nil)
	}
	return &WorkerCollector{
		workers:    workers,
		blocks:     desc("blocks_total", "Total blocks drained."),
		frames:     desc("frames_total", "Total frames decoded."),
		matched:    desc("matched_total", "Total frames decoded as DNS."),
		ignored:    desc("ignored_total", "Total frames outside the filter."),
		malformed:  desc("malformed_total", "Total malformed frames."),
		sinkErrors: desc("sink_errors_total", "Total events rejected by the sink."),
	}
}

// Describe implements prometheus.Collector.
func (c *WorkerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blocks
	ch <- c.frames
	ch <- c.matched
	ch <- c.ignored
	ch <- c.malformed
	ch <- c.sinkErrors
}

// Collect implements prometheus.Collector.
func (c *WorkerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, w := range c.workers {
		s := w.Metrics().Snapshot()
		label := strconv.Itoa(w.Index())
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.CounterValue, float64(s.Blocks), label)
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Frames), label)
		ch <- prometheus.MustNewConstMetric(c.matched, prometheus.CounterValue, float64(s.Matched), label)
		ch <- prometheus.MustNewConstMetric(c.ignored, prometheus.CounterValue, float64(s.Ignored), label)
		ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(s.Malformed), label)
		ch <- prometheus.MustNewConstMetric(c.sinkErrors, prometheus.CounterValue, float64(s.SinkErrors), label)
	}
}

// QueueStats is the part of sink.Queue exposed as metrics.
type QueueStats interface {
	Evicted() uint64
	Errors() uint64
	Len() int
}

// QueueCollector exposes the sink queue counters.
type QueueCollector struct {
	q QueueStats

	evicted *prometheus.Desc
	errors  *prometheus.Desc
	length  *prometheus.Desc
}

// NewQueueCollector creates a collector over q.
func NewQueueCollector(q QueueStats) *QueueCollector {
	return &QueueCollector{
		q:       q,
		evicted: prometheus.NewDesc("dnsniff_sink_queue_evicted_total", "Total events evicted from the sink queue.", nil, nil),
		errors:  prometheus.NewDesc("dnsniff_sink_queue_errors_total", "Total queued events the sink rejected.", nil, nil),
		length:  prometheus.NewDesc("dnsniff_sink_queue_length", "Current number of queued events.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.evicted
	ch <- c.errors
	ch <- c.length
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(c.q.Evicted()))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(c.q.Errors()))
	ch <- prometheus.MustNewConstMetric(c.length, prometheus.GaugeValue, float64(c.q.Len()))
}
