package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// If l is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogHandler{log: l}
}

// StdLogger returns a *log.Logger whose output is routed through l at the
// given level. Used for net/http's ErrorLog.
func StdLogger(l *Logger, level Level) *log.Logger {
	return slog.NewLogLogger(NewSlogHandler(l), toSlogLevel(level))
}

type slogHandler struct {
	log    *Logger
	prefix string
	attrs  []string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.Enabled(fromSlogLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	parts := make([]string, 0, 1+len(h.attrs)+record.NumAttrs())
	if msg := strings.TrimRight(record.Message, "\n"); msg != "" {
		parts = append(parts, msg)
	}
	parts = append(parts, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		parts = appendAttr(parts, h.prefix, attr)
		return true
	})

	line := strings.Join(parts, " ")
	switch fromSlogLevel(record.Level) {
	case LevelError:
		h.log.Error("%s", line)
	case LevelWarn:
		h.log.Warn("%s", line)
	case LevelInfo:
		h.log.Info("%s", line)
	default:
		h.log.Debug("%s", line)
	}
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogHandler{log: h.log, prefix: h.prefix}
	next.attrs = append([]string(nil), h.attrs...)
	for _, attr := range attrs {
		next.attrs = appendAttr(next.attrs, h.prefix, attr)
	}
	return next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{
		log:    h.log,
		prefix: h.prefix + name + ".",
		attrs:  append([]string(nil), h.attrs...),
	}
}

func appendAttr(parts []string, prefix string, attr slog.Attr) []string {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return parts
	}
	if attr.Value.Kind() == slog.KindGroup {
		nested := prefix
		if attr.Key != "" {
			nested += attr.Key + "."
		}
		for _, a := range attr.Value.Group() {
			parts = appendAttr(parts, nested, a)
		}
		return parts
	}
	key := attr.Key
	if key == "" {
		key = "attr"
	}
	return append(parts, fmt.Sprintf("%s%s=%v", prefix, key, attr.Value))
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelNone:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
