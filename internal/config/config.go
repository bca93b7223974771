// Package config handles configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/dnsniff/internal/core"
)

// Config represents the top-level configuration.
// Maps to the `dnsniff:` root key in YAML.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder"`
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`
	Stats   StatsConfig   `mapstructure:"stats" yaml:"stats"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
}

// ─── Capture ───

// CaptureConfig contains ring and fan-out settings.
type CaptureConfig struct {
	Interface    string             `mapstructure:"interface" yaml:"interface"`
	Workers      int                `mapstructure:"workers" yaml:"workers" validate:"gte=0,lte=1024"` // 0 = number of CPUs
	Backend      string             `mapstructure:"backend" yaml:"backend" validate:"oneof=tpacket afpacket pcap"`
	PcapFile     string             `mapstructure:"pcap_file" yaml:"pcap_file"`
	Fanout       string             `mapstructure:"fanout" yaml:"fanout" validate:"oneof=hash lb loadbalance cpu rollover random qm"`
	FanoutID     uint16             `mapstructure:"fanout_id" yaml:"fanout_id"` // 0 = derived from PID
	Defrag       bool               `mapstructure:"defrag" yaml:"defrag"`
	SnapLen      int                `mapstructure:"snaplen" yaml:"snaplen" validate:"gte=64,lte=65535"`
	BufferMB     int                `mapstructure:"buffer_mb" yaml:"buffer_mb" validate:"gte=0"` // > 0 derives ring geometry
	Ring         RingConfig         `mapstructure:"ring" yaml:"ring"`
	PollTimeout  time.Duration      `mapstructure:"poll_timeout" yaml:"poll_timeout" validate:"gte=0"`
	KernelFilter KernelFilterConfig `mapstructure:"kernel_filter" yaml:"kernel_filter"`
}

// RingConfig is the explicit TPACKET_V3 geometry, used when buffer_mb is 0.
type RingConfig struct {
	BlockSize    int           `mapstructure:"block_size" yaml:"block_size" validate:"gte=0"`
	BlockCount   int           `mapstructure:"block_count" yaml:"block_count" validate:"gte=0"`
	FrameSize    int           `mapstructure:"frame_size" yaml:"frame_size" validate:"gte=0"`
	BlockTimeout time.Duration `mapstructure:"block_timeout" yaml:"block_timeout" validate:"gte=0"`
}

// KernelFilterConfig controls the classic BPF prefilter.
type KernelFilterConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Expression string `mapstructure:"expression" yaml:"expression"` // libpcap syntax, replaces the port filter
}

// ─── Decoder ───

// DecoderConfig configures the decode chain.
type DecoderConfig struct {
	Ports      []uint16 `mapstructure:"ports" yaml:"ports" validate:"min=1,max=64,dive,gt=0"`
	LinkOffset int      `mapstructure:"link_offset" yaml:"link_offset" validate:"gte=0,lte=256"`
	StripVLAN  bool     `mapstructure:"strip_vlan" yaml:"strip_vlan"`
}

// ─── Sink ───

// SinkConfig selects where decoded events go.
type SinkConfig struct {
	Type          string          `mapstructure:"type" yaml:"type" validate:"oneof=console log kafka discard"`
	Format        string          `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	EmitMalformed bool            `mapstructure:"emit_malformed" yaml:"emit_malformed"`
	Queue         QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Kafka         KafkaSinkConfig `mapstructure:"kafka" yaml:"kafka"`
}

// QueueConfig configures the drop-oldest queue in front of the sink.
type QueueConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled"`
	Capacity int  `mapstructure:"capacity" yaml:"capacity" validate:"gte=0"`
}

// KafkaSinkConfig contains Kafka sink settings.
type KafkaSinkConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout" validate:"gte=0"`
	Compression  string        `mapstructure:"compression" yaml:"compression" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
}

// ─── Stats ───

// StatsConfig configures the telemetry aggregator.
type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`
	Output   string        `mapstructure:"output" yaml:"output" validate:"oneof=stderr log none"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"required_if=Enabled true"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format  string           `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path" validate:"required_if=Enabled true"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Control ───

// ControlConfig contains process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"` // empty = no pid file
}

// ─── Loading ───

const rootKey = "dnsniff"

// configRoot is the top-level wrapper matching the YAML structure `dnsniff: ...`.
type configRoot struct {
	Dnsniff Config `mapstructure:"dnsniff" yaml:"dnsniff"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their configuration key.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and validates configuration.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg, err := Read(path, overrides)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Read merges defaults, the file at path (skipped when empty), environment
// and overrides without validating. overrides are keyed without the root
// (e.g. "capture.interface").
// The YAML file uses `dnsniff:` as root key; env vars use the DNSNIFF_ prefix
// (e.g., DNSNIFF_CAPTURE_WORKERS).
func Read(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `dnsniff.` key prefix maps to `DNSNIFF_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, value := range overrides {
		v.Set(rootKey+"."+key, value)
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &root.Dnsniff, nil
}

// setDefaults sets default values for configuration.
// All keys use the "dnsniff." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("dnsniff.capture.interface", "")
	v.SetDefault("dnsniff.capture.workers", 0)
	v.SetDefault("dnsniff.capture.backend", "tpacket")
	v.SetDefault("dnsniff.capture.pcap_file", "")
	v.SetDefault("dnsniff.capture.fanout", "hash")
	v.SetDefault("dnsniff.capture.fanout_id", 0)
	v.SetDefault("dnsniff.capture.defrag", false)
	v.SetDefault("dnsniff.capture.snaplen", 65535)
	v.SetDefault("dnsniff.capture.buffer_mb", 0)
	v.SetDefault("dnsniff.capture.ring.block_size", 1<<20)
	v.SetDefault("dnsniff.capture.ring.block_count", 64)
	v.SetDefault("dnsniff.capture.ring.frame_size", 2048)
	v.SetDefault("dnsniff.capture.ring.block_timeout", "10ms")
	v.SetDefault("dnsniff.capture.poll_timeout", "100ms")
	v.SetDefault("dnsniff.capture.kernel_filter.enabled", false)
	v.SetDefault("dnsniff.capture.kernel_filter.expression", "")

	// Decoder defaults
	v.SetDefault("dnsniff.decoder.ports", []uint16{53})
	v.SetDefault("dnsniff.decoder.link_offset", 0)
	v.SetDefault("dnsniff.decoder.strip_vlan", false)

	// Sink defaults
	v.SetDefault("dnsniff.sink.type", "console")
	v.SetDefault("dnsniff.sink.format", "text")
	v.SetDefault("dnsniff.sink.emit_malformed", false)
	v.SetDefault("dnsniff.sink.queue.enabled", false)
	v.SetDefault("dnsniff.sink.queue.capacity", 4096)
	v.SetDefault("dnsniff.sink.kafka.brokers", []string{})
	v.SetDefault("dnsniff.sink.kafka.topic", "")
	v.SetDefault("dnsniff.sink.kafka.batch_size", 100)
	v.SetDefault("dnsniff.sink.kafka.batch_timeout", "100ms")
	v.SetDefault("dnsniff.sink.kafka.compression", "snappy")
	v.SetDefault("dnsniff.sink.kafka.max_attempts", 3)

	// Stats defaults
	v.SetDefault("dnsniff.stats.interval", "1s")
	v.SetDefault("dnsniff.stats.output", "stderr")

	// Metrics defaults
	v.SetDefault("dnsniff.metrics.enabled", false)
	v.SetDefault("dnsniff.metrics.listen", ":9153")
	v.SetDefault("dnsniff.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("dnsniff.log.level", "info")
	v.SetDefault("dnsniff.log.format", "text")
	v.SetDefault("dnsniff.log.outputs.file.enabled", false)
	v.SetDefault("dnsniff.log.outputs.file.path", "/var/log/dnsniff/dnsniff.log")
	v.SetDefault("dnsniff.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("dnsniff.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("dnsniff.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("dnsniff.log.outputs.file.rotation.compress", true)

	// Control defaults
	v.SetDefault("dnsniff.control.pid_file", "")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %s", core.ErrConfigInvalid, describe(err))
	}

	// ── Capture source ──
	switch cfg.Capture.Backend {
	case "pcap":
		if cfg.Capture.PcapFile == "" {
			return fmt.Errorf("%w: capture.pcap_file is required when capture.backend=pcap", core.ErrConfigInvalid)
		}
	default:
		if cfg.Capture.Interface == "" {
			return fmt.Errorf("%w: capture.interface is required", core.ErrConfigInvalid)
		}
	}

	// ── Worker count ──
	if cfg.Capture.Workers == 0 {
		cfg.Capture.Workers = runtime.NumCPU()
	}

	// ── Ring geometry ──
	if cfg.Capture.BufferMB == 0 {
		r := cfg.Capture.Ring
		if r.BlockSize <= 0 || r.BlockCount <= 0 || r.FrameSize <= 0 {
			return fmt.Errorf("%w: capture.ring block_size, block_count and frame_size must be positive", core.ErrConfigInvalid)
		}
		if r.BlockSize%r.FrameSize != 0 {
			return fmt.Errorf("%w: capture.ring.block_size %d is not a multiple of frame_size %d",
				core.ErrConfigInvalid, r.BlockSize, r.FrameSize)
		}
	}

	// ── Sink ──
	if cfg.Sink.Type == "kafka" {
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: sink.kafka.brokers is required when sink.type=kafka", core.ErrConfigInvalid)
		}
		if cfg.Sink.Kafka.Topic == "" {
			return fmt.Errorf("%w: sink.kafka.topic is required when sink.type=kafka", core.ErrConfigInvalid)
		}
	}

	// ── Stats ──
	if cfg.Stats.Interval == 0 {
		cfg.Stats.Interval = time.Second
	}

	return nil
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		path := strings.TrimPrefix(e.Namespace(), "Config.")
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", path, e.Tag(), e.Param(), e.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", path, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// YAML renders cfg under the root key.
func (cfg *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(configRoot{Dnsniff: *cfg})
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
