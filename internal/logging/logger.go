// Package logging builds the structured loggers used by pantry-sync.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment,
// writing to stdout. Production uses JSON at info level, everything else
// uses human-readable text at debug level.
func NewLogger(env string) *slog.Logger {
	return New(os.Stdout, env)
}

// New is NewLogger with an explicit destination.
func New(w io.Writer, env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Component returns a child logger tagged with the component name, the
// attribute every package logger in this repo carries.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return logger.With(slog.String("component", name))
}
