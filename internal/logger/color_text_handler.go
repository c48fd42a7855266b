package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler to prefix each record with an
// ANSI-colored level tag, giving the operator a step-by-step colored
// status log on stdout. Without showTime the time attribute is dropped,
// which keeps one-shot pass output stable and diffable.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler creates a new ColorTextHandler. showTime controls
// whether the time attribute is emitted.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	if !showTime {
		inner := opts.ReplaceAttr
		wrapped := *opts
		wrapped.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if inner != nil {
				return inner(groups, a)
			}
			return a
		}
		opts = &wrapped
	}
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch {
	case r.Level < slog.LevelInfo:
		colorCode = "\033[36m" // Cyan
	case r.Level < slog.LevelWarn:
		colorCode = "\033[32m" // Green
	case r.Level < slog.LevelError:
		colorCode = "\033[33m" // Yellow
	default:
		colorCode = "\033[31m" // Red
	}
	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
