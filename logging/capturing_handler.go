package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// CapturingHandler copies every record into a LogCollector under a fixed key
// and then forwards it to the wrapped handler.
type CapturingHandler struct {
	next      slog.Handler
	collector *LogCollector
	key       string
	attrs     []slog.Attr
	groups    []string
}

// NewCapturingHandler wraps next so records are captured under key.
func NewCapturingHandler(next slog.Handler, collector *LogCollector, key string) *CapturingHandler {
	return &CapturingHandler{
		next:      next,
		collector: collector,
		key:       key,
	}
}

// Enabled returns true for every level. Records below the wrapped handler's
// level are captured but not forwarded.
func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle captures r and forwards it when the wrapped handler wants it.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      strings.ToLower(r.Level.String()),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, a := range h.attrs {
		entry.Attributes[a.Key] = resolveValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[h.qualify(a.Key)] = resolveValue(a.Value)
		return true
	})
	h.collector.AddLog(h.key, entry)

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs must return a CapturingHandler so that logger.With chains keep
// capturing. Keys are qualified with the groups open at this point.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.next = h.next.WithAttrs(attrs)
	c.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return c
}

// WithGroup must return a CapturingHandler for the same reason as WithAttrs.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.next = h.next.WithGroup(name)
	c.groups = append(slices.Clone(h.groups), name)
	return c
}

func (h *CapturingHandler) clone() *CapturingHandler {
	return &CapturingHandler{
		next:      h.next,
		collector: h.collector,
		key:       h.key,
		attrs:     h.attrs,
		groups:    h.groups,
	}
}

// qualify prefixes key with the open groups, dot-separated.
func (h *CapturingHandler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// resolveValue converts v to something encoding/json can write. Errors
// become their message.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	}
}
