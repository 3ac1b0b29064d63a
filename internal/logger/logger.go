// Package logger installs the process-wide slog handler.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/talgya/hexcity/internal/config"
)

// Init sets the default logger from the logging config.
func Init(cfg config.LoggingConfig) {
	slog.SetDefault(New(os.Stdout, cfg))
	slog.Debug("logger initialized", "level", cfg.Level, "format", cfg.Format)
}

// New builds a logger writing to w.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
