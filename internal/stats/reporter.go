package stats

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"firestige.xyz/dnsniff/internal/core"
)

// FormatLine renders the telemetry line for s.
func FormatLine(s Snapshot) string {
	return fmt.Sprintf("%d frames received per second, %d dropped. %d total drops of %d total packets (%.4f%%)",
		s.Packets, s.Drops, s.Totals.Drops, s.Totals.Packets, s.DropPercent())
}

// Line writes the telemetry line to a writer.
type Line struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLine creates a line reporter writing to w.
func NewLine(w io.Writer) *Line {
	return &Line{w: w}
}

func (l *Line) Report(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, FormatLine(s))
}

// Log reports each snapshot as a structured record.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a slog reporter.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Report(s Snapshot) {
	l.logger.Info("capture statistics",
		"packets", s.Packets,
		"drops", s.Drops,
		"queue_freezes", s.QueueFreezes,
		"total_packets", s.Totals.Packets,
		"total_drops", s.Totals.Drops,
		"drop_percent", s.DropPercent(),
		"skipped", s.Skipped)
}

// NewReporter returns the reporter for output: stderr, log or none.
// none yields a nil reporter.
func NewReporter(output string, logger *slog.Logger) (Reporter, error) {
	switch output {
	case "", "stderr":
		return NewLine(os.Stderr), nil
	case "log":
		if logger == nil {
			logger = slog.Default()
		}
		return NewLog(logger.With("component", "stats")), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown stats output %q", core.ErrConfigInvalid, output)
	}
}
