package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"firestige.xyz/dnsniff/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
dnsniff:
  capture:
    interface: "eth0"
    workers: 4
    fanout: "cpu"
    fanout_id: 77
    poll_timeout: "250ms"
    ring:
      block_size: 2097152
      block_count: 32
      frame_size: 2048
  decoder:
    ports: [53, 5353]
    strip_vlan: true
  sink:
    type: "kafka"
    format: "json"
    kafka:
      brokers:
        - "localhost:9092"
      topic: "dns-events"
      compression: "zstd"
  stats:
    interval: "5s"
    output: "log"
  log:
    level: "debug"
    format: "json"
  control:
    pid_file: "/tmp/dnsniff.pid"
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Interface != "eth0" {
		t.Errorf("Expected interface eth0, got %s", cfg.Capture.Interface)
	}
	if cfg.Capture.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Capture.Workers)
	}
	if cfg.Capture.Fanout != "cpu" || cfg.Capture.FanoutID != 77 {
		t.Errorf("Expected fanout cpu/77, got %s/%d", cfg.Capture.Fanout, cfg.Capture.FanoutID)
	}
	if cfg.Capture.PollTimeout != 250*time.Millisecond {
		t.Errorf("Expected poll timeout 250ms, got %v", cfg.Capture.PollTimeout)
	}
	if cfg.Capture.Ring.BlockSize != 2097152 || cfg.Capture.Ring.BlockCount != 32 {
		t.Errorf("Unexpected ring geometry %+v", cfg.Capture.Ring)
	}
	if len(cfg.Decoder.Ports) != 2 || cfg.Decoder.Ports[1] != 5353 {
		t.Errorf("Expected ports [53 5353], got %v", cfg.Decoder.Ports)
	}
	if !cfg.Decoder.StripVLAN {
		t.Error("Expected strip_vlan true")
	}
	if cfg.Sink.Type != "kafka" || cfg.Sink.Kafka.Topic != "dns-events" {
		t.Errorf("Unexpected sink %+v", cfg.Sink)
	}
	if len(cfg.Sink.Kafka.Brokers) != 1 || cfg.Sink.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Expected Kafka broker localhost:9092, got %v", cfg.Sink.Kafka.Brokers)
	}
	if cfg.Stats.Interval != 5*time.Second || cfg.Stats.Output != "log" {
		t.Errorf("Unexpected stats %+v", cfg.Stats)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log %+v", cfg.Log)
	}
	if cfg.Control.PIDFile != "/tmp/dnsniff.pid" {
		t.Errorf("Expected PIDFile /tmp/dnsniff.pid, got %s", cfg.Control.PIDFile)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", map[string]any{"capture.interface": "eth0"})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Workers != runtime.NumCPU() {
		t.Errorf("Expected %d workers, got %d", runtime.NumCPU(), cfg.Capture.Workers)
	}
	if cfg.Capture.Backend != "tpacket" {
		t.Errorf("Expected backend tpacket, got %s", cfg.Capture.Backend)
	}
	if cfg.Capture.Fanout != "hash" {
		t.Errorf("Expected fanout hash, got %s", cfg.Capture.Fanout)
	}
	if cfg.Capture.PollTimeout != 100*time.Millisecond {
		t.Errorf("Expected poll timeout 100ms, got %v", cfg.Capture.PollTimeout)
	}
	if cfg.Capture.Ring.BlockTimeout != 10*time.Millisecond {
		t.Errorf("Expected block timeout 10ms, got %v", cfg.Capture.Ring.BlockTimeout)
	}
	if len(cfg.Decoder.Ports) != 1 || cfg.Decoder.Ports[0] != 53 {
		t.Errorf("Expected ports [53], got %v", cfg.Decoder.Ports)
	}
	if cfg.Sink.Type != "console" || cfg.Sink.Format != "text" || cfg.Sink.Queue.Enabled {
		t.Errorf("Unexpected sink defaults %+v", cfg.Sink)
	}
	if cfg.Stats.Interval != time.Second || cfg.Stats.Output != "stderr" {
		t.Errorf("Unexpected stats defaults %+v", cfg.Stats)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected log level info, got %s", cfg.Log.Level)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DNSNIFF_CAPTURE_INTERFACE", "eth1")
	t.Setenv("DNSNIFF_CAPTURE_WORKERS", "3")
	t.Setenv("DNSNIFF_LOG_LEVEL", "warn")

	path := writeConfig(t, `
dnsniff:
  capture:
    interface: "eth0"
    workers: 8
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.Interface != "eth1" {
		t.Errorf("Expected interface eth1 from env, got %s", cfg.Capture.Interface)
	}
	if cfg.Capture.Workers != 3 {
		t.Errorf("Expected 3 workers from env, got %d", cfg.Capture.Workers)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level warn from env, got %s", cfg.Log.Level)
	}
}

func TestOverridesWin(t *testing.T) {
	t.Setenv("DNSNIFF_CAPTURE_WORKERS", "3")

	cfg, err := Load("", map[string]any{
		"capture.interface": "lo",
		"capture.workers":   2,
		"sink.type":         "discard",
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.Workers != 2 {
		t.Errorf("Expected override workers 2, got %d", cfg.Capture.Workers)
	}
	if cfg.Sink.Type != "discard" {
		t.Errorf("Expected sink discard, got %s", cfg.Sink.Type)
	}
}

func TestLoadInvalid(t *testing.T) {
	base := map[string]any{"capture.interface": "eth0"}
	with := func(kv ...any) map[string]any {
		m := make(map[string]any, len(base)+len(kv)/2)
		for k, v := range base {
			m[k] = v
		}
		for i := 0; i < len(kv); i += 2 {
			m[kv[i].(string)] = kv[i+1]
		}
		return m
	}

	tests := []struct {
		name      string
		overrides map[string]any
		wantField string
	}{
		{"invalid log level", with("log.level", "verbose"), "log.level"},
		{"invalid log format", with("log.format", "xml"), "log.format"},
		{"invalid fanout", with("capture.fanout", "roundrobin"), "capture.fanout"},
		{"invalid backend", with("capture.backend", "netmap"), "capture.backend"},
		{"negative workers", with("capture.workers", -1), "capture.workers"},
		{"snaplen too small", with("capture.snaplen", 10), "capture.snaplen"},
		{"no ports", with("decoder.ports", []uint16{}), "decoder.ports"},
		{"zero port", with("decoder.ports", []uint16{53, 0}), "decoder.ports"},
		{"invalid sink", with("sink.type", "syslog"), "sink.type"},
		{"invalid compression", with("sink.kafka.compression", "brotli"), "sink.kafka.compression"},
		{"invalid stats output", with("stats.output", "udp"), "stats.output"},
		{"metrics without listen", with("metrics.enabled", true, "metrics.listen", ""), "metrics.listen"},
		{"log file without path", with("log.outputs.file.enabled", true, "log.outputs.file.path", ""), "log.outputs.file.path"},
		{"missing interface", map[string]any{}, "capture.interface"},
		{"pcap without file", with("capture.backend", "pcap"), "capture.pcap_file"},
		{"kafka without brokers", with("sink.type", "kafka", "sink.kafka.topic", "dns"), "sink.kafka.brokers"},
		{"kafka without topic", with("sink.type", "kafka", "sink.kafka.brokers", []string{"k:9092"}), "sink.kafka.topic"},
		{"block not multiple of frame", with("capture.ring.block_size", 1<<20, "capture.ring.frame_size", 3000), "capture.ring.block_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", tt.overrides)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("Expected error to mention %s, got %v", tt.wantField, err)
			}
		})
	}
}

func TestPcapBackendNeedsNoInterface(t *testing.T) {
	cfg, err := Load("", map[string]any{
		"capture.backend":   "pcap",
		"capture.pcap_file": "/tmp/dns.pcap",
		"capture.workers":   2,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.PcapFile != "/tmp/dns.pcap" {
		t.Errorf("Expected pcap file /tmp/dns.pcap, got %s", cfg.Capture.PcapFile)
	}
}

func TestBufferMBSkipsRingCheck(t *testing.T) {
	_, err := Load("", map[string]any{
		"capture.interface":       "eth0",
		"capture.buffer_mb":       64,
		"capture.ring.frame_size": 3000,
	})
	if err != nil {
		t.Fatalf("Expected buffer_mb to bypass explicit ring checks, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml"), nil); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestReadSkipsValidation(t *testing.T) {
	cfg, err := Read("", nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if cfg.Capture.Interface != "" {
		t.Errorf("Expected empty interface, got %s", cfg.Capture.Interface)
	}
	if cfg.Capture.Workers != 0 {
		t.Errorf("Expected unresolved worker count 0, got %d", cfg.Capture.Workers)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("", map[string]any{
		"capture.interface": "eth0",
		"decoder.ports":     []uint16{53, 853},
		"stats.interval":    "2s",
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "dnsniff:\n") {
		t.Errorf("Expected dnsniff root key, got:\n%s", out)
	}

	again, err := Load(writeConfig(t, string(out)), nil)
	if err != nil {
		t.Fatalf("Failed to reload dumped config: %v", err)
	}
	if again.Capture.Interface != "eth0" {
		t.Errorf("Expected interface eth0, got %s", again.Capture.Interface)
	}
	if len(again.Decoder.Ports) != 2 || again.Decoder.Ports[1] != 853 {
		t.Errorf("Expected ports [53 853], got %v", again.Decoder.Ports)
	}
	if again.Stats.Interval != 2*time.Second {
		t.Errorf("Expected interval 2s, got %v", again.Stats.Interval)
	}
	if again.Capture.PollTimeout != cfg.Capture.PollTimeout {
		t.Errorf("Poll timeout changed: %v != %v", again.Capture.PollTimeout, cfg.Capture.PollTimeout)
	}
}
