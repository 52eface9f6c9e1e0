package logbuf

import (
	"context"
	"log/slog"
)

// Handler tees slog records into a Buffer while delegating to an inner
// handler for normal output.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	bound  []slog.Attr
	groups []string
}

// NewHandler wraps inner so every record is also captured in buf.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled always reports true: the ring captures every level even when
// the inner handler filters its output.
func (h *Handler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.bound {
		attrs[h.qualify(a.Key)] = flatten(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.qualify(a.Key)] = flatten(a.Value)
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

	// The inner handler keeps its own level filter.
	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner:  h.inner.WithAttrs(attrs),
		buf:    h.buf,
		bound:  append(h.bound[:len(h.bound):len(h.bound)], attrs...),
		groups: h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		inner:  h.inner.WithGroup(name),
		buf:    h.buf,
		bound:  h.bound,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

func (h *Handler) qualify(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

// flatten resolves slog values into JSON-friendly types. Errors become
// strings so they survive marshaling.
func flatten(v slog.Value) any {
	raw := v.Resolve().Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}
