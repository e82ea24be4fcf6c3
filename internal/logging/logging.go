// Package logging sets up the process-wide slog handler. Logs always go to
// stderr so machine-format stdout stays clean.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog handler at the given level, writing to w
// (stderr when nil). Returns the previous default so tests can restore it.
func Setup(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	prev := slog.Default()
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(handler))
	return prev
}

// parseLevel maps a level name to slog.Level; unknown names mean Info.
// QMD_LOG_LEVEL=debug turns on debug logging.
func parseLevel(level string) slog.Level {
	if level == "" {
		level = os.Getenv("QMD_LOG_LEVEL")
	}
	switch strings.ToLower(level) {
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
