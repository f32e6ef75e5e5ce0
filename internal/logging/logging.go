package logging

import (
	"io"
	"log/slog"
	"strings"
)

// LevelEnv names the environment variable that selects the log level.
const LevelEnv = "LEGACYGRANT_LOG_LEVEL"

// ParseLevel accepts "debug", "info", "warn" and "error" (case-insensitive).
// Anything else is info.
func ParseLevel(level string) slog.Level {
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

// Setup creates a text *slog.Logger writing to w, sets it as the default,
// and returns it. Run logs go to stderr so the report on stdout stays clean.
func Setup(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
