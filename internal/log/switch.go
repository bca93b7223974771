package log

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// switchRoot holds the handler every derived switchHandler forwards to.
type switchRoot struct {
	gen     atomic.Uint64
	handler atomic.Pointer[slog.Handler]
}

// switchHandler replays its WithAttrs/WithGroup chain on top of the current
// root handler, rebuilding only after a swap.
type switchHandler struct {
	root  *switchRoot
	ops   []func(slog.Handler) slog.Handler
	built atomic.Pointer[builtHandler]
}

type builtHandler struct {
	gen uint64
	h   slog.Handler
}

func newSwitch(h slog.Handler) *switchHandler {
	root := &switchRoot{}
	root.handler.Store(&h)
	return &switchHandler{root: root}
}

// swap replaces the root handler. The pointer is stored before the
// generation moves so a reader never caches a stale handler as current.
func (s *switchHandler) swap(h slog.Handler) {
	s.root.handler.Store(&h)
	s.root.gen.Add(1)
}

func (s *switchHandler) current() slog.Handler {
	gen := s.root.gen.Load()
	if b := s.built.Load(); b != nil && b.gen == gen {
		return b.h
	}
	h := *s.root.handler.Load()
	for _, op := range s.ops {
		h = op(h)
	}
	s.built.Store(&builtHandler{gen: gen, h: h})
	return h
}

func (s *switchHandler) derive(op func(slog.Handler) slog.Handler) *switchHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(s.ops), len(s.ops)+1)
	copy(ops, s.ops)
	return &switchHandler{root: s.root, ops: append(ops, op)}
}

func (s *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

func (s *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *switchHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}
