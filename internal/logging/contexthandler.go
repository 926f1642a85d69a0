package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes computed at the moment a record is handled.
type ContextProvider func() []slog.Attr

// ContextHandler appends the provider's attributes to every record before
// passing it on.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps inner. Wrapping another ContextHandler replaces its
// provider instead of stacking a second one, so a logger re-scoped to a new
// session does not report the old session too.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	if ch, ok := inner.(*ContextHandler); ok {
		inner = ch.inner
	}
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		if attrs := h.provider(); len(attrs) > 0 {
			r.AddAttrs(attrs...)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}

// SessionContext reports the open project and playhead on every record.
// Either func may be nil.
func SessionContext(project func() string, currentTime func() float64) ContextProvider {
	return func() []slog.Attr {
		attrs := make([]slog.Attr, 0, 2)
		if project != nil {
			if name := project(); name != "" {
				attrs = append(attrs, slog.String("project", name))
			}
		}
		if currentTime != nil {
			attrs = append(attrs, slog.Int64("timeMs", int64(currentTime())))
		}
		return attrs
	}
}
