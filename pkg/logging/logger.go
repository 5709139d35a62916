package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the level ("DEBUG", "INFO", "WARN", "ERROR") and the
// format ("json" or "text") of the process logger.
type Config struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// InitLogger builds the process logger and installs it as slog's default.
func InitLogger(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to slog. Unknown names fall back to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("component", component),
	)
}

// NewSessionLogger scopes a logger to one call.
func NewSessionLogger(base *slog.Logger, component, sessionID string) *slog.Logger {
	return NewComponentLogger(base, component).With(slog.String("session_id", sessionID))
}
