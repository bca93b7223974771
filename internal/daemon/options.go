package daemon

import (
	"fmt"
	"log/slog"
	"os"

	"firestige.xyz/dnsniff/internal/capture"
	"firestige.xyz/dnsniff/internal/config"
	"firestige.xyz/dnsniff/internal/sink"
)

// captureOptions translates the capture and decoder sections into ring options.
func captureOptions(cfg *config.Config) (capture.Options, error) {
	c := cfg.Capture

	mode, err := capture.ParseFanoutMode(c.Fanout)
	if err != nil {
		return capture.Options{}, err
	}

	geo := capture.Geometry{
		BlockSize:    c.Ring.BlockSize,
		BlockCount:   c.Ring.BlockCount,
		FrameSize:    c.Ring.FrameSize,
		BlockTimeout: c.Ring.BlockTimeout,
	}
	if c.BufferMB > 0 {
		geo, err = capture.ComputeGeometry(c.BufferMB, c.SnapLen, os.Getpagesize())
		if err != nil {
			return capture.Options{}, err
		}
		geo.BlockTimeout = c.Ring.BlockTimeout
	}

	opts := capture.Options{
		Interface:   c.Interface,
		Workers:     c.Workers,
		Backend:     c.Backend,
		PcapFile:    c.PcapFile,
		Fanout:      mode,
		FanoutID:    c.FanoutID,
		Defrag:      c.Defrag,
		Geometry:    geo,
		PollTimeout: c.PollTimeout,
		Logger:      slog.Default(),
	}

	if c.KernelFilter.Enabled {
		if c.KernelFilter.Expression != "" {
			opts.Filter, err = capture.CompileExpression(c.KernelFilter.Expression, c.SnapLen)
		} else {
			opts.Filter, err = capture.DNSFilter(cfg.Decoder.Ports, uint32(c.SnapLen))
		}
		if err != nil {
			return capture.Options{}, fmt.Errorf("build kernel filter: %w", err)
		}
	}
	return opts, nil
}

func sinkConfig(c config.SinkConfig) sink.Config {
	return sink.Config{
		Type:          c.Type,
		Format:        c.Format,
		QueueEnabled:  c.Queue.Enabled,
		QueueCapacity: c.Queue.Capacity,
		Kafka: sink.KafkaConfig{
			Brokers:      c.Kafka.Brokers,
			Topic:        c.Kafka.Topic,
			BatchSize:    c.Kafka.BatchSize,
			BatchTimeout: c.Kafka.BatchTimeout,
			Compression:  c.Kafka.Compression,
			MaxAttempts:  c.Kafka.MaxAttempts,
		},
	}
}
