package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dnsniff/internal/core"
)

func testEvent(t *testing.T, response bool) *core.DNSEvent {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Id = 4242
	if response {
		q := m
		m = new(dns.Msg)
		m.SetReply(q)
		rr, err := dns.NewRR("example.com. 60 IN A 192.0.2.10")
		require.NoError(t, err)
		m.Answer = append(m.Answer, rr)
	}
	return &core.DNSEvent{
		Timestamp: time.Date(2024, 5, 1, 12, 30, 15, 250e6, time.UTC),
		Ring:      2,
		OrigLen:   74,
		IP: core.IPHeader{
			Version: 4,
			SrcIP:   netip.MustParseAddr("10.0.0.1"),
			DstIP:   netip.MustParseAddr("10.0.0.53"),
			TTL:     64,
		},
		Transport: core.TransportHeader{SrcPort: 40000, DstPort: 53, Protocol: 17},
		Msg:       m,
	}
}

func TestNewRecord(t *testing.T) {
	r := NewRecord(testEvent(t, true))

	assert.Equal(t, "10.0.0.1", r.SrcIP)
	assert.Equal(t, uint16(53), r.DstPort)
	assert.Equal(t, uint16(4242), r.ID)
	assert.True(t, r.Response)
	assert.Equal(t, "NOERROR", r.Rcode)
	assert.Equal(t, "QUERY", r.Opcode)
	require.Len(t, r.Questions, 1)
	assert.Equal(t, Question{Name: "example.com.", Type: "A", Class: "IN"}, r.Questions[0])
	require.Len(t, r.Answers, 1)
	assert.Contains(t, r.Answers[0], "192.0.2.10")
}

func TestNewRecordMalformed(t *testing.T) {
	ev := testEvent(t, false)
	ev.Msg = nil
	ev.Err = core.ErrInvalidDNS

	r := NewRecord(ev)
	assert.Equal(t, core.ErrInvalidDNS.Error(), r.Error)
	assert.Empty(t, r.Questions)
}

func TestConsoleText(t *testing.T) {
	var buf bytes.Buffer
	c, err := NewConsole(&buf, "")
	require.NoError(t, err)

	require.NoError(t, c.Emit(testEvent(t, false)))
	require.NoError(t, c.Emit(testEvent(t, true)))
	assert.Equal(t, uint64(2), c.Count())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[12:30:15.250] ring=2 10.0.0.1:40000 > 10.0.0.53:53 Q id=4242 example.com. A", lines[0])
	assert.Equal(t, "[12:30:15.250] ring=2 10.0.0.1:40000 > 10.0.0.53:53 R id=4242 NOERROR example.com. A answers=1", lines[1])
	assert.NoError(t, c.Close())
}

func TestConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	c, err := NewConsole(&buf, "json")
	require.NoError(t, err)
	require.NoError(t, c.Emit(testEvent(t, false)))

	var r Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	assert.Equal(t, "10.0.0.53", r.DstIP)
	assert.False(t, r.Response)
	assert.Equal(t, 2, r.Ring)
}

func TestConsoleInvalidFormat(t *testing.T) {
	_, err := NewConsole(&bytes.Buffer{}, "xml")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	c, err := NewConsole(&bytes.Buffer{}, "text")
	require.NoError(t, err)
	assert.Error(t, c.Emit(nil))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	l := NewLog(logger)

	require.NoError(t, l.Emit(testEvent(t, true)))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "dns message", rec["msg"])
	assert.Equal(t, "example.com.", rec["qname"])
	assert.Equal(t, "10.0.0.1:40000-10.0.0.53:53", rec["flow"])
	assert.Equal(t, "NOERROR", rec["rcode"])
}

func TestDiscard(t *testing.T) {
	var d Discard
	assert.NoError(t, d.Emit(testEvent(t, false)))
	assert.NoError(t, d.Close())
}

func TestNew(t *testing.T) {
	s, err := New(Config{Type: "discard"}, nil)
	require.NoError(t, err)
	assert.IsType(t, Discard{}, s)

	s, err = New(Config{Type: "log", QueueEnabled: true, QueueCapacity: 4}, nil)
	require.NoError(t, err)
	q, ok := s.(*Queue)
	require.True(t, ok)
	assert.NoError(t, q.Close())

	_, err = New(Config{Type: "carrier-pigeon"}, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(Config{Type: "kafka"}, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

// blockingSink holds every Emit until released.
type blockingSink struct {
	mu      sync.Mutex
	gate    chan struct{}
	got     []uint16
	closed  bool
	started chan struct{}
	once    sync.Once
}

func (b *blockingSink) Emit(ev *core.DNSEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.gate
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, ev.Transport.SrcPort)
	return nil
}

func (b *blockingSink) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func portEvent(port uint16) *core.DNSEvent {
	return &core.DNSEvent{Transport: core.TransportHeader{SrcPort: port}}
}

func TestQueueEvictsOldest(t *testing.T) {
	down := &blockingSink{gate: make(chan struct{}), started: make(chan struct{})}
	q := NewQueue(down, 3, nil)

	// The consumer takes event 1 and blocks inside Emit.
	require.NoError(t, q.Emit(portEvent(1)))
	<-down.started

	for p := uint16(2); p <= 6; p++ {
		require.NoError(t, q.Emit(portEvent(p)))
	}
	assert.Equal(t, uint64(2), q.Evicted())
	assert.Equal(t, 3, q.Len())

	close(down.gate)
	require.NoError(t, q.Close())

	assert.Equal(t, []uint16{1, 4, 5, 6}, down.got)
	assert.True(t, down.closed)
	assert.ErrorIs(t, q.Emit(portEvent(7)), core.ErrSinkClosed)
	assert.NoError(t, q.Close())
}

type failingSink struct{}

func (failingSink) Emit(*core.DNSEvent) error { return errors.New("down") }
func (failingSink) Close() error              { return nil }

func TestQueueCountsDownstreamErrors(t *testing.T) {
	q := NewQueue(failingSink{}, 8, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Emit(portEvent(uint16(i))))
	}
	require.NoError(t, q.Close())
	assert.Equal(t, uint64(5), q.Errors())
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}
