// Package daemon implements the process lifecycle: startup ordering,
// signal handling and graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/dnsniff/internal/capture"
	"firestige.xyz/dnsniff/internal/config"
	"firestige.xyz/dnsniff/internal/core/decoder"
	logpkg "firestige.xyz/dnsniff/internal/log"
	"firestige.xyz/dnsniff/internal/metrics"
	"firestige.xyz/dnsniff/internal/sink"
	"firestige.xyz/dnsniff/internal/stats"
	"firestige.xyz/dnsniff/internal/worker"
)

// Daemon manages the dnsniff process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.Config
	configPath string
	overrides  map[string]any

	// Core components
	group         *capture.Group
	sink          sink.Sink
	pool          *worker.Pool
	aggregator    *stats.Aggregator
	metricsServer *metrics.Server        // nil if metrics disabled
	collectors    []prometheus.Collector // registered while running

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	poolDone     chan struct{}
	poolErr      error
	statsDone    chan struct{}
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	pidWritten   bool
	stopOnce     sync.Once
}

// New loads configuration and creates a Daemon. Nothing is opened until Start.
func New(configPath string, overrides map[string]any) (*Daemon, error) {
	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		overrides:    overrides,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Config returns the effective configuration.
func (d *Daemon) Config() *config.Config { return d.config }

// Start opens every component and starts the workers. On failure whatever
// was already opened is released and no worker runs.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting dnsniff",
		"config", d.configPath,
		"backend", d.config.Capture.Backend,
		"interface", d.config.Capture.Interface,
		"workers", d.config.Capture.Workers,
	)

	if err := d.open(); err != nil {
		d.release()
		return err
	}

	// Workers start last so a startup failure never leaves one running.
	d.poolDone = make(chan struct{})
	go func() {
		defer close(d.poolDone)
		d.poolErr = d.pool.Run(d.ctx)
	}()

	d.statsDone = make(chan struct{})
	go func() {
		defer close(d.statsDone)
		_ = d.aggregator.Run(d.ctx, d.config.Stats.Interval)
	}()

	slog.Info("dnsniff started", "fanout_id", d.group.FanoutID(), "rings", len(d.group.Rings()))
	return nil
}

func (d *Daemon) open() error {
	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Decoder
	dec := decoder.NewStandardDecoder(decoder.Config{
		Ports:      d.config.Decoder.Ports,
		LinkOffset: d.config.Decoder.LinkOffset,
		StripVLAN:  d.config.Decoder.StripVLAN,
	})

	// 4. Sink
	s, err := sink.New(sinkConfig(d.config.Sink), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	d.sink = s

	// 5. Capture rings
	opts, err := captureOptions(d.config)
	if err != nil {
		return err
	}
	group, err := capture.OpenGroup(opts)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	d.group = group

	// 6. Workers, one per ring
	rings := group.Rings()
	workers := make([]*worker.Worker, 0, len(rings))
	sources := make([]stats.Source, 0, len(rings))
	for _, r := range rings {
		workers = append(workers, worker.New(worker.Config{
			Ring:          r,
			Decoder:       dec,
			Sink:          s,
			EmitMalformed: d.config.Sink.EmitMalformed,
			Logger:        slog.Default(),
		}))
		sources = append(sources, r)
	}
	d.pool = worker.NewPool(workers...)

	// 7. Statistics
	var reporters []stats.Reporter
	rep, err := stats.NewReporter(d.config.Stats.Output, slog.Default())
	if err != nil {
		return err
	}
	if rep != nil {
		reporters = append(reporters, rep)
	}
	if d.config.Metrics.Enabled {
		reporters = append(reporters, metrics.StatsReporter{})
	}
	d.aggregator = stats.New(sources, reporters...)

	// 8. Metrics
	if err := d.startMetrics(workers); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// Run blocks until a shutdown signal, Shutdown, or the end of a finite
// capture source. SIGHUP reloads logging. It returns the first worker
// failure, if any.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("dnsniff running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown requested")
			d.Stop()
			return nil

		case <-d.poolDone:
			if d.poolErr != nil {
				slog.Error("capture failed", "error", d.poolErr)
			} else {
				slog.Info("capture source exhausted")
			}
			d.Stop()
			return d.poolErr
		}
	}
}

// Shutdown asks a running Run loop to stop.
func (d *Daemon) Shutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Stop shuts everything down: workers first, then a final statistics tick,
// rings, sink, metrics and the PID file. It must not be called concurrently
// with Run; use Shutdown instead.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		slog.Info("initiating graceful shutdown")

		// 1. Cancel workers and statistics, wait for every ring to be released
		d.cancel()
		if d.poolDone != nil {
			<-d.poolDone
		}
		if d.statsDone != nil {
			<-d.statsDone
		}

		// 2. Final statistics
		if d.aggregator != nil && d.poolDone != nil {
			s := d.aggregator.Tick(time.Now())
			slog.Info("final capture statistics",
				"total_packets", s.Totals.Packets,
				"total_drops", s.Totals.Drops,
				"drop_percent", s.DropPercent())
		}
		if d.pool != nil {
			t := d.pool.Totals()
			slog.Info("decode totals",
				"frames", t.Frames,
				"matched", t.Matched,
				"ignored", t.Ignored,
				"malformed", t.Malformed,
				"sink_errors", t.SinkErrors)
		}

		// 3. Release rings, sink, metrics and PID file
		d.release()

		// 4. Unregister signal handler
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}

		slog.Info("dnsniff stopped")
		logpkg.Close()
	})
}

// release closes every opened component: rings, sink, metrics, PID file.
func (d *Daemon) release() {
	if d.group != nil {
		if err := d.group.Close(); err != nil {
			slog.Error("error closing capture rings", "error", err)
		}
		d.group = nil
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing sink", "error", err)
		}
		d.sink = nil
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(context.Background()); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		d.metricsServer = nil
	}
	for _, c := range d.collectors {
		prometheus.Unregister(c)
	}
	d.collectors = nil

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format. Everything else requires a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath, d.overrides)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := logpkg.Reload(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reload logging: %w", err)
	}

	requiresRestart := []string{}
	old := d.config
	if !reflect.DeepEqual(newConfig.Capture, old.Capture) {
		requiresRestart = append(requiresRestart, "capture")
	}
	if !reflect.DeepEqual(newConfig.Decoder, old.Decoder) {
		requiresRestart = append(requiresRestart, "decoder")
	}
	if !reflect.DeepEqual(newConfig.Sink, old.Sink) {
		requiresRestart = append(requiresRestart, "sink")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	d.config.Log = newConfig.Log

	slog.Info("configuration reloaded",
		"level", newConfig.Log.Level,
		"format", newConfig.Log.Format,
		"requires_restart", requiresRestart,
	)
	return nil
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics registers the collectors and starts the HTTP server if enabled.
func (d *Daemon) startMetrics(workers []*worker.Worker) error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.collectors = append(d.collectors, metrics.NewWorkerCollector(workers))
	if q, ok := d.sink.(*sink.Queue); ok {
		d.collectors = append(d.collectors, metrics.NewQueueCollector(q))
	}
	for _, c := range d.collectors {
		if err := prometheus.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	pidFile := d.config.Control.PIDFile
	if pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", pidFile, err)
	}
	d.pidWritten = true

	slog.Debug("PID file written", "path", pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file written by this process.
func (d *Daemon) removePIDFile() error {
	if !d.pidWritten {
		return nil
	}
	pidFile := d.config.Control.PIDFile
	d.pidWritten = false

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", pidFile, err)
	}

	slog.Debug("PID file removed", "path", pidFile)
	return nil
}
