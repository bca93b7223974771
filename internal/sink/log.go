package sink

import (
	"log/slog"

	"firestige.xyz/dnsniff/internal/core"
)

// Log emits one structured log record per event.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log sink.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Emit(ev *core.DNSEvent) error {
	r := NewRecord(ev)
	attrs := []any{
		"ring", r.Ring,
		"flow", flowKey(ev),
		"id", r.ID,
		"response", r.Response,
	}
	if len(r.Questions) > 0 {
		attrs = append(attrs, "qname", r.Questions[0].Name, "qtype", r.Questions[0].Type)
	}
	if r.Rcode != "" {
		attrs = append(attrs, "rcode", r.Rcode, "answers", len(r.Answers))
	}
	if r.Error != "" {
		l.logger.Warn("malformed dns message", append(attrs, "error", r.Error)...)
		return nil
	}
	l.logger.Info("dns message", attrs...)
	return nil
}

func (l *Log) Close() error { return nil }

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(*core.DNSEvent) error { return nil }
func (Discard) Close() error              { return nil }
