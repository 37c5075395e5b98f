package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "videocap"

// journalHandler sends records to the systemd journal. Attributes become
// upper-case journal fields, e.g. device=/dev/video0 becomes DEVICE.
type journalHandler struct {
	level  slog.Leveler
	fields map[string]string
	prefix string
}

func newJournalHandler(level slog.Leveler) *journalHandler {
	return &journalHandler{level: level, fields: map[string]string{}}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string, len(h.fields)+r.NumAttrs()+1)
	for k, v := range h.fields {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		journalFields(fields, h.prefix, a)
		return true
	})
	fields["SYSLOG_IDENTIFIER"] = syslogIdentifier

	return journal.Send(r.Message, journalPriority(r.Level), fields)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(map[string]string, len(h.fields)+len(attrs))
	for k, v := range h.fields {
		fields[k] = v
	}
	for _, a := range attrs {
		journalFields(fields, h.prefix, a)
	}
	return &journalHandler{level: h.level, fields: fields, prefix: h.prefix}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &journalHandler{level: h.level, fields: h.fields, prefix: h.prefix + name + "_"}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalFields adds a to fields. Journal field names only allow upper-case
// letters, digits and underscores.
func journalFields(fields map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub += a.Key + "_"
		}
		for _, ga := range a.Value.Group() {
			journalFields(fields, sub, ga)
		}
		return
	}

	key := journalKey(prefix + a.Key)
	if key == "" {
		return
	}

	switch a.Value.Kind() {
	case slog.KindString:
		fields[key] = a.Value.String()
	case slog.KindInt64:
		fields[key] = strconv.FormatInt(a.Value.Int64(), 10)
	case slog.KindUint64:
		fields[key] = strconv.FormatUint(a.Value.Uint64(), 10)
	case slog.KindBool:
		fields[key] = strconv.FormatBool(a.Value.Bool())
	case slog.KindDuration:
		fields[key] = a.Value.Duration().String()
	case slog.KindTime:
		fields[key] = a.Value.Time().Format(time.RFC3339Nano)
	default:
		fields[key] = fmt.Sprint(a.Value.Any())
	}
}

func journalKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	// Leading underscores are reserved for trusted fields.
	return strings.TrimLeft(b.String(), "_")
}
