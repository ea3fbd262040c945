package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

const serviceName = "bemfa-bridge"

// redactKeep is how many leading characters Redact leaves visible.
const redactKeep = 4

// Logger is a *slog.Logger whose With keeps the *Logger type, so
// components can be handed child loggers without conversions.
type Logger struct {
	*slog.Logger
}

// New builds a logger for cfg. Unknown levels fall back to info and
// unknown formats to JSON.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newLogger(cfg, version, outputFor(cfg.Output))
}

func newLogger(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

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

// With returns a child logger carrying args on every entry.
//
//	log.With("component", "coordinator").Info("started")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the startup logger used until the config has been read:
// JSON on stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard drops every entry. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Redact keeps the first few characters of secret and masks the rest.
// Secrets too short to shorten are fully masked.
//
//	logging.Redact("abcdef0123456789") // "abcd..."
func Redact(secret string) string {
	if len(secret) <= redactKeep {
		return strings.Repeat("*", len(secret))
	}
	return secret[:redactKeep] + "..."
}
