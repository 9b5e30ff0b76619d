// Package logger builds the zerolog loggers used by every binary and carries
// the per-request correlation id through context.Context.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config selects the level and destination of log output.
// It mirrors config.LoggingConfig to keep this package free of the config import.
type Config struct {
	Level     string
	Output    string // stdout (default) or file
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// New creates a JSON zerolog.Logger on stdout at the given level.
// An unknown level falls back to info.
func New(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFromConfig creates a logger writing to stdout or, when cfg.Output is
// "file", to a size-rotated file.
func NewFromConfig(cfg Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Output == "file" && cfg.FilePath != "" {
		w = NewFileWriter(FileConfig{
			Path:      cfg.FilePath,
			MaxSizeMB: cfg.MaxSizeMB,
			MaxFiles:  cfg.MaxFiles,
		})
	}
	return newLogger(w, cfg.Level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the context logger (or an info-level default) with the
// correlation id attached when one is present.
func FromContext(ctx context.Context) zerolog.Logger {
	log, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		log = New("info")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}
	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
