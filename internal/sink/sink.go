// Package sink delivers decoded DNS events to their destination.
package sink

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/miekg/dns"

	"firestige.xyz/dnsniff/internal/core"
)

// Sink consumes decoded events. Emit may be called from several workers at once.
type Sink interface {
	Emit(ev *core.DNSEvent) error
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	Type          string // console, log, kafka, discard
	Format        string // console: text or json
	QueueEnabled  bool
	QueueCapacity int
	Kafka         KafkaConfig
}

// New builds the sink described by cfg, wrapped in a Queue when enabled.
func New(cfg Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sink", "type", cfg.Type)

	var (
		s   Sink
		err error
	)
	switch cfg.Type {
	case "", "console":
		s, err = NewConsole(os.Stdout, cfg.Format)
	case "log":
		s = NewLog(logger)
	case "kafka":
		s, err = NewKafka(cfg.Kafka, logger)
	case "discard":
		s = Discard{}
	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", core.ErrConfigInvalid, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.QueueEnabled {
		s = NewQueue(s, cfg.QueueCapacity, logger)
	}
	return s, nil
}

// Record is the serialized form of an event.
type Record struct {
	Timestamp time.Time  `json:"timestamp"`
	Ring      int        `json:"ring"`
	SrcIP     string     `json:"src_ip"`
	DstIP     string     `json:"dst_ip"`
	SrcPort   uint16     `json:"src_port"`
	DstPort   uint16     `json:"dst_port"`
	TTL       uint8      `json:"ttl"`
	Length    uint32     `json:"length"`
	ID        uint16     `json:"id"`
	Response  bool       `json:"response"`
	Opcode    string     `json:"opcode,omitempty"`
	Rcode     string     `json:"rcode,omitempty"`
	Questions []Question `json:"questions,omitempty"`
	Answers   []string   `json:"answers,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Question is one entry of the question section.
type Question struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Class string `json:"class"`
}

// NewRecord flattens ev.
func NewRecord(ev *core.DNSEvent) Record {
	r := Record{
		Timestamp: ev.Timestamp,
		Ring:      ev.Ring,
		SrcIP:     ev.IP.SrcIP.String(),
		DstIP:     ev.IP.DstIP.String(),
		SrcPort:   ev.Transport.SrcPort,
		DstPort:   ev.Transport.DstPort,
		TTL:       ev.IP.TTL,
		Length:    ev.OrigLen,
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	if m := ev.Msg; m != nil {
		r.ID = m.Id
		r.Response = m.Response
		r.Opcode = dns.OpcodeToString[m.Opcode]
		if m.Response {
			r.Rcode = dns.RcodeToString[m.Rcode]
		}
		for _, q := range m.Question {
			r.Questions = append(r.Questions, Question{
				Name:  q.Name,
				Type:  dns.TypeToString[q.Qtype],
				Class: dns.ClassToString[q.Qclass],
			})
		}
		for _, rr := range m.Answer {
			r.Answers = append(r.Answers, rr.String())
		}
	}
	return r
}

// flowKey identifies the exchange an event belongs to.
func flowKey(ev *core.DNSEvent) string {
	return fmt.Sprintf("%s:%d-%s:%d", ev.IP.SrcIP, ev.Transport.SrcPort, ev.IP.DstIP, ev.Transport.DstPort)
}
