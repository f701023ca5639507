package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	levelVar.Set(ParseLevel(lvl))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
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

// SetOutput redirects the global logger. Interactive commands send logs to
// stderr so they do not interleave with the conversation on stdout.
func SetOutput(w io.Writer) {
	L = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar}))
}
