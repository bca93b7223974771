package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"firestige.xyz/dnsniff/internal/core"
)

// Console writes one line per event, as text or JSON.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	count  atomic.Uint64
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer, format string) (*Console, error) {
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("%w: invalid format %q, must be json or text", core.ErrConfigInvalid, format)
	}
	return &Console{w: w, format: format}, nil
}

// Emit writes ev.
func (c *Console) Emit(ev *core.DNSEvent) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	var line []byte
	if c.format == "json" {
		data, err := json.Marshal(NewRecord(ev))
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(ev))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(line); err != nil {
		return err
	}
	c.count.Add(1)
	return nil
}

// Count returns the number of events written.
func (c *Console) Count() uint64 { return c.count.Load() }

// Close is a no-op; the writer is owned by the caller.
func (c *Console) Close() error { return nil }

// formatText renders ev as a single human-readable line.
func formatText(ev *core.DNSEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ring=%d %s:%d > %s:%d",
		ev.Timestamp.Format("15:04:05.000"),
		ev.Ring,
		ev.IP.SrcIP, ev.Transport.SrcPort,
		ev.IP.DstIP, ev.Transport.DstPort,
	)

	r := NewRecord(ev)
	switch {
	case r.Error != "":
		fmt.Fprintf(&b, " malformed: %s", r.Error)
	case r.Response:
		fmt.Fprintf(&b, " R id=%d %s", r.ID, r.Rcode)
	default:
		fmt.Fprintf(&b, " Q id=%d", r.ID)
	}
	for _, q := range r.Questions {
		fmt.Fprintf(&b, " %s %s", q.Name, q.Type)
	}
	if len(r.Answers) > 0 {
		fmt.Fprintf(&b, " answers=%d", len(r.Answers))
	}
	b.WriteByte('\n')
	return b.String()
}
