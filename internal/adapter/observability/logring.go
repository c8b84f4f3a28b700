package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry is one captured record, shaped for the admin log endpoints.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Attrs   string    `json:"attrs,omitempty"`
}

// LogRing is a slog.Handler keeping the most recent records in memory so the
// admin surface can serve them without log shipping.
type LogRing struct {
	mu    sync.Mutex
	buf   []LogEntry
	next  int
	full  bool
	attrs []slog.Attr
	level slog.Level
}

// NewLogRing builds a ring holding up to size records at min level.
func NewLogRing(size int, level slog.Level) *LogRing {
	if size <= 0 {
		size = 1000
	}
	return &LogRing{buf: make([]LogEntry, size), level: level}
}

// Enabled implements slog.Handler.
func (l *LogRing) Enabled(_ context.Context, level slog.Level) bool {
	return level >= l.level
}

// Handle appends the record, overwriting the oldest once the ring is full.
func (l *LogRing) Handle(_ context.Context, rec slog.Record) error {
	e := LogEntry{Time: rec.Time, Level: rec.Level.String(), Message: rec.Message}
	attrs := ""
	appendAttr := func(a slog.Attr) bool {
		if attrs != "" {
			attrs += " "
		}
		attrs += a.Key + "=" + a.Value.String()
		return true
	}
	for _, a := range l.attrs {
		appendAttr(a)
	}
	rec.Attrs(appendAttr)
	e.Attrs = attrs

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = e
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
	return nil
}

// WithAttrs implements slog.Handler; derived handlers share the same ring.
func (l *LogRing) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &shareRing{ring: l, attrs: append(append([]slog.Attr{}, l.attrs...), attrs...)}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (l *LogRing) WithGroup(string) slog.Handler { return l }

// Entries returns up to limit entries starting at offset, newest first,
// optionally filtered by level string (e.g. "ERROR").
func (l *LogRing) Entries(offset, limit int, level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.buf)
	}
	// newest first
	out := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.buf)
		}
		e := l.buf[idx]
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// shareRing routes derived-handler records back into the parent ring while
// carrying the derived attrs.
type shareRing struct {
	ring  *LogRing
	attrs []slog.Attr
}

func (s *shareRing) Enabled(ctx context.Context, level slog.Level) bool {
	return s.ring.Enabled(ctx, level)
}

func (s *shareRing) Handle(ctx context.Context, rec slog.Record) error {
	rec = rec.Clone()
	rec.AddAttrs(s.attrs...)
	return s.ring.Handle(ctx, rec)
}

func (s *shareRing) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &shareRing{ring: s.ring, attrs: append(append([]slog.Attr{}, s.attrs...), attrs...)}
}

func (s *shareRing) WithGroup(string) slog.Handler { return s }
