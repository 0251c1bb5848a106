package logbuf

import (
	"context"
	"log/slog"
)

// Handler is an slog.Handler that tees records into a Buffer while
// delegating to an inner handler for normal output.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	bound  []slog.Attr
	prefix string // dotted group path from WithGroup
}

// NewHandler creates a handler that writes to both buf and inner.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled always reports true so the buffer captures every level; the
// inner handler still applies its own filter in Handle.
func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.bound))
	for _, a := range h.bound {
		attrs[h.prefix+a.Key] = flatten(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = flatten(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.buf.Write(Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	clone.bound = append(h.bound[:len(h.bound):len(h.bound)], attrs...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

// flatten converts slog values to JSON-safe types. Errors become their
// string form so they don't serialize to {}.
func flatten(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}
