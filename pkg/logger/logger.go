// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a textual level into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Init installs a text handler at the given level as the slog default.
func Init(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// GetLogger returns a logger scoped to a component.
func GetLogger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
