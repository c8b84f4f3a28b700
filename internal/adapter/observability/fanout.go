package observability

import (
	"context"
	"log/slog"
)

// FanoutHandler duplicates every record to a set of slog handlers. It lets the
// stdout JSON handler and the admin log ring observe the same stream.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler builds a FanoutHandler over the given handlers.
func NewFanoutHandler(hs ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: hs}
}

// Enabled reports whether any underlying handler accepts the level.
func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes the record to every handler that accepts its level.
func (f *FanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs returns a FanoutHandler whose members all carry the attrs.
func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: hs}
}

// WithGroup returns a FanoutHandler whose members all carry the group.
func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &FanoutHandler{handlers: hs}
}
