// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/dnsniff/internal/config"
)

var (
	mu   sync.Mutex
	out  io.Writer = os.Stderr // console output, replaced in tests
	file *lumberjack.Logger
	sw   = newSwitch(slog.NewTextHandler(os.Stderr, nil))
)

// Init initializes the global logger based on configuration.
// Console output always goes to stderr, stdout belongs to the event sink.
func Init(cfg config.LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	writers := []io.Writer{out}

	var fw *lumberjack.Logger
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		fw = w
		writers = append(writers, w)
	}

	handler, err := newHandler(io.MultiWriter(writers...), cfg)
	if err != nil {
		if fw != nil {
			fw.Close()
		}
		return err
	}

	if file != nil {
		file.Close()
	}
	file = fw
	sw.swap(handler)
	slog.SetDefault(slog.New(sw))
	return nil
}

// Reload re-applies level and format. Outputs keep their writers, and
// loggers derived before the call pick up the change.
func Reload(cfg config.LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	writers := []io.Writer{out}
	if file != nil {
		writers = append(writers, file)
	}
	handler, err := newHandler(io.MultiWriter(writers...), cfg)
	if err != nil {
		return err
	}
	sw.swap(handler)
	return nil
}

// Close releases the file output, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

func newHandler(w io.Writer, cfg config.LogConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
