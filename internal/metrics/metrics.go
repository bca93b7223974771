// Package metrics implements Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/dnsniff/internal/stats"
)

var (
	// CapturePacketsTotal counts frames seen by the kernel per ring, drops included
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsniff_capture_packets_total",
			Help: "Total number of frames received by each ring",
		},
		[]string{"ring"},
	)

	// CaptureDropsTotal counts frames the kernel dropped per ring
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsniff_capture_drops_total",
			Help: "Total number of frames dropped by each ring",
		},
		[]string{"ring"},
	)

	// CaptureQueueFreezesTotal counts ring queue freezes per ring
	CaptureQueueFreezesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsniff_capture_queue_freezes_total",
			Help: "Total number of ring queue freezes",
		},
		[]string{"ring"},
	)

	// CaptureDropRatio tracks cumulative drops over cumulative packets
	CaptureDropRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dnsniff_capture_drop_ratio",
			Help: "Ratio of dropped frames to received frames since start",
		},
	)

	// StatsReadErrorsTotal counts failed ring statistics reads
	StatsReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsniff_stats_read_errors_total",
			Help: "Total number of failed ring statistics reads",
		},
		[]string{"ring"},
	)
)

// StatsReporter feeds aggregator snapshots into the capture metrics.
type StatsReporter struct{}

// Report implements stats.Reporter.
func (StatsReporter) Report(s stats.Snapshot) {
	for _, r := range s.PerRing {
		ring := strconv.Itoa(r.Ring)
		if r.Err != nil {
			StatsReadErrorsTotal.WithLabelValues(ring).Inc()
			continue
		}
		CapturePacketsTotal.WithLabelValues(ring).Add(float64(r.Packets))
		CaptureDropsTotal.WithLabelValues(ring).Add(float64(r.Drops))
		CaptureQueueFreezesTotal.WithLabelValues(ring).Add(float64(r.QueueFreezes))
	}
	CaptureDropRatio.Set(s.DropPercent() / 100)
}
