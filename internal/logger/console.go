package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler to colorize levels on the
// interactive console. The audit file never goes through this path.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewConsole builds a slog.Logger for CLI console output.
func NewConsole(w io.Writer, level slog.Level) *slog.Logger {
	h := &ColorTextHandler{TextHandler: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})}
	return slog.New(h)
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m"
	case slog.LevelInfo:
		colorCode = "\033[32m"
	case slog.LevelWarn:
		colorCode = "\033[33m"
	case slog.LevelError:
		colorCode = "\033[31m"
	default:
		colorCode = "\033[0m"
	}
	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
