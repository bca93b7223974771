package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/dnsniff/internal/config"
)

// captureOutput redirects console output for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	mu.Lock()
	prev := out
	out = &buf
	mu.Unlock()
	t.Cleanup(func() {
		Close()
		mu.Lock()
		out = prev
		mu.Unlock()
	})
	return &buf
}

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		t.Run(input, func(t *testing.T) {
			if _, err := parseLevel(input); err == nil {
				t.Errorf("parseLevel(%q) should return error, got nil", input)
			}
		})
	}
}

func TestInitConsoleOnly(t *testing.T) {
	buf := captureOutput(t)

	if err := Init(config.LogConfig{Level: "info", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("test message", "key", "value")
	slog.Debug("hidden message")

	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("JSON output should contain message field, got %q", output)
	}
	if strings.Contains(output, "hidden message") {
		t.Error("Debug message should be filtered out")
	}
}

func TestInitWithFileOutput(t *testing.T) {
	captureOutput(t)
	logPath := filepath.Join(t.TempDir(), "test.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("test message", "key", "value")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created at %s: %v", logPath, err)
	}
	if !strings.Contains(string(data), "key=value") {
		t.Errorf("Text output should contain key=value, got %q", data)
	}
}

func TestInitErrors(t *testing.T) {
	captureOutput(t)

	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr string
	}{
		{"invalid level", config.LogConfig{Level: "invalid", Format: "json"}, "invalid log level"},
		{"invalid format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"missing file path", config.LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
		}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.cfg)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error about %s, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestReloadAppliesToDerivedLoggers(t *testing.T) {
	buf := captureOutput(t)

	if err := Init(config.LogConfig{Level: "info", Format: "text"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	logger := slog.Default().With("component", "worker")

	logger.Debug("before reload")
	if strings.Contains(buf.String(), "before reload") {
		t.Fatal("Debug message should be filtered before reload")
	}

	if err := Reload(config.LogConfig{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	logger.Debug("after reload")

	output := buf.String()
	if !strings.Contains(output, `"msg":"after reload"`) {
		t.Errorf("Expected JSON debug record after reload, got %q", output)
	}
	if !strings.Contains(output, `"component":"worker"`) {
		t.Errorf("Expected derived attribute to survive reload, got %q", output)
	}
}

func TestReloadKeepsFileOutput(t *testing.T) {
	captureOutput(t)
	logPath := filepath.Join(t.TempDir(), "reload.log")

	cfg := config.LogConfig{
		Level:   "info",
		Format:  "text",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true, Path: logPath}},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := Reload(config.LogConfig{Level: "warn", Format: "text"}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	slog.Info("dropped")
	slog.Warn("kept")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Errorf("Unexpected file content %q", data)
	}
}

func TestReloadInvalid(t *testing.T) {
	captureOutput(t)
	if err := Reload(config.LogConfig{Level: "loud", Format: "text"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestSwitchHandlerGroups(t *testing.T) {
	var a, b bytes.Buffer
	sw := newSwitch(slog.NewJSONHandler(&a, nil))
	logger := slog.New(sw).WithGroup("dns").With("id", 7)

	logger.Info("first")
	sw.swap(slog.NewJSONHandler(&b, nil))
	logger.Info("second")

	if !strings.Contains(a.String(), `"dns":{"id":7}`) {
		t.Errorf("Expected grouped attribute in first handler, got %q", a.String())
	}
	if !strings.Contains(b.String(), `"msg":"second","dns":{"id":7}`) {
		t.Errorf("Expected grouped attribute in swapped handler, got %q", b.String())
	}
	if strings.Contains(a.String(), "second") {
		t.Error("Record written to the replaced handler")
	}
}
