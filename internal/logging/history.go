package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one record kept in the history.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Module  string         `json:"module"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// History keeps the most recent log entries in a fixed-size ring.
type History struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewHistory returns a history holding up to size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

// Add appends e, dropping the oldest entry when the ring is full.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// Entries returns up to limit of the newest entries, oldest first. A limit
// of zero or less returns everything.
func (h *History) Entries(limit int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, limit)
	start := h.next - limit
	if start < 0 {
		start += len(h.entries)
	}
	for i := range out {
		out[i] = h.entries[(start+i)%len(h.entries)]
	}
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Cap returns the ring size.
func (h *History) Cap() int {
	return len(h.entries)
}

// historyHandler writes records to whichever History is current when the
// record is handled, so loggers survive a resize by Initialize.
type historyHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newHistoryHandler(level slog.Leveler) *historyHandler {
	return &historyHandler{level: level}
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   levelName(r.Level),
		Module:  "main",
		Message: r.Message,
		Attrs:   make(map[string]any),
	}

	add := func(a slog.Attr) bool {
		if a.Key == "module" && len(h.groups) == 0 {
			e.Module = a.Value.String()
			return true
		}
		flatten(e.Attrs, h.groups, a)
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)

	if len(e.Attrs) == 0 {
		e.Attrs = nil
	}
	GetHistory().Add(e)
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(h.groups) > 0 {
		// Qualify now so later groups don't apply to these attrs.
		attrs = []slog.Attr{{Key: strings.Join(h.groups, "."), Value: slog.GroupValue(attrs...)}}
	}
	return &historyHandler{
		level:  h.level,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &historyHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

// flatten stores a under a dotted key.
func flatten(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := groups
		if a.Key != "" {
			sub = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			flatten(dst, sub, ga)
		}
	case slog.KindTime:
		dst[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		dst[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			dst[key] = err.Error()
		} else {
			dst[key] = a.Value.Any()
		}
	default:
		dst[key] = a.Value.Any()
	}
}
