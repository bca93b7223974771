package sink

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/dnsniff/internal/core"
)

const defaultQueueCapacity = 4096

// Queue decouples workers from a slow sink. When full, the oldest queued
// event is evicted to make room for the new one.
type Queue struct {
	next   Sink
	ch     chan *core.DNSEvent
	logger *slog.Logger

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
	done   chan struct{}

	evicted atomic.Uint64
	errors  atomic.Uint64
}

// NewQueue starts a queue of capacity events in front of next.
func NewQueue(next Sink, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		next:   next,
		ch:     make(chan *core.DNSEvent, capacity),
		logger: logger,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		if err := q.next.Emit(ev); err != nil {
			q.errors.Add(1)
			q.logger.Debug("queued emit failed", "error", err)
		}
	}
}

// Emit enqueues ev without blocking.
func (q *Queue) Emit(ev *core.DNSEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return core.ErrSinkClosed
	}
	for {
		select {
		case q.ch <- ev:
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.evicted.Add(1)
		default:
		}
	}
}

// Evicted returns the number of events dropped to make room.
func (q *Queue) Evicted() uint64 { return q.evicted.Load() }

// Errors returns the number of events the downstream sink rejected.
func (q *Queue) Errors() uint64 { return q.errors.Load() }

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Close drains the queue into the downstream sink and closes it.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
	return q.next.Close()
}
