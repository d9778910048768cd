package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/htd-bridge/internal/infrastructure/config"
)

// Logger is the bridge's structured logger, a thin wrapper over slog.
//
// Every record carries service and version fields. The embedded methods
// take alternating key/value pairs, which also makes *Logger satisfy the
// engine's htd.Logger and the broker client's mqtt.Logger interfaces.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the config's logging section: level filter,
// text or JSON encoding, stdout or stderr.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := buildHandler(cfg).WithAttrs([]slog.Attr{
		slog.String("service", "htd-bridge"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// buildHandler resolves output destination, level and encoding.
// Unrecognised values fall back to stdout/info/JSON rather than failing;
// logging config must never stop the bridge from starting.
func buildHandler(cfg config.LoggingConfig) slog.Handler {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(output, opts)
	}
	return slog.NewJSONHandler(output, opts)
}

// parseLevel maps a config level string to slog.Level, defaulting to
// info. "warning" is accepted as an alias for "warn".
func parseLevel(level string) slog.Level {
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

// With returns a child logger carrying extra default attributes, e.g.
// logger.With("component", "mqtt").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns a stdout/JSON/info logger for the window between
// process start and config load.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
