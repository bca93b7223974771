package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/dnsniff/internal/core"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// KafkaConfig represents Kafka sink configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string // none|gzip|snappy|lz4|zstd
	MaxAttempts  int
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON through an asynchronous writer.
// Delivery failures surface through the completion callback, not Emit.
type Kafka struct {
	writer messageWriter
	topic  string
	logger *slog.Logger

	closed    atomic.Bool
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

// NewKafka creates a Kafka sink. No connection is made until the first batch.
func NewKafka(cfg KafkaConfig, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers is required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", core.ErrConfigInvalid)
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	k := &Kafka{topic: cfg.Topic, logger: logger}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same flow, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		Async:        true,
		Completion:   k.complete,
	}
	logger.Info("kafka sink configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression)
	return k, nil
}

func (k *Kafka) complete(msgs []kafka.Message, err error) {
	if err != nil {
		k.failed.Add(uint64(len(msgs)))
		k.logger.Warn("kafka delivery failed", "messages", len(msgs), "error", err)
		return
	}
	k.delivered.Add(uint64(len(msgs)))
}

// buildMessage converts ev into a Kafka message keyed by its flow.
func buildMessage(ev *core.DNSEvent) (kafka.Message, error) {
	value, err := json.Marshal(NewRecord(ev))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize event failed: %w", err)
	}
	return kafka.Message{
		Key:   []byte(flowKey(ev)),
		Value: value,
		Time:  ev.Timestamp,
	}, nil
}

// Emit queues ev on the writer.
func (k *Kafka) Emit(ev *core.DNSEvent) error {
	if k.closed.Load() {
		return core.ErrSinkClosed
	}
	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes pending batches.
func (k *Kafka) Close() error {
	if k.closed.Swap(true) {
		return nil
	}
	err := k.writer.Close()
	k.logger.Info("kafka sink stopped",
		"delivered", k.delivered.Load(),
		"failed", k.failed.Load())
	if err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
