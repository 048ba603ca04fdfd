package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process JSON logger on stdout.
func NewLogger(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New builds a JSON logger writing to w. Every record carries the service
// name so session and consumer logs can share a sink.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(w, opts)).With("service", "driver-companion")
}

// Component scopes a logger to one subsystem.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
