// Package logger provides structured logging utilities.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	reqctx "github.com/ricesearch/tsrr/internal/pkg/context"
)

// Logger wraps zerolog.Logger with key/value helpers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a new logger with the specified level and format writing to stderr.
// Stdout is left alone so CLI reports stay machine-readable.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}

	zl := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Debug logs at debug level. args are alternating keys and values.
func (l *Logger) Debug(msg string, args ...any) {
	l.zl.Debug().Fields(args).Msg(msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.zl.Info().Fields(args).Msg(msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.zl.Warn().Fields(args).Msg(msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.zl.Error().Fields(args).Msg(msg)
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(args).Logger()}
}

// WithContext returns a logger with the request and run IDs found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	c := l.zl.With()
	changed := false
	if id := reqctx.GetRequestID(ctx); id != "" {
		c = c.Str("request_id", id)
		changed = true
	}
	if id := reqctx.GetRunID(ctx); id != "" {
		c = c.Str("run_id", id)
		changed = true
	}
	if !changed {
		return l
	}
	return &Logger{zl: c.Logger()}
}

// WithRun returns a logger with evaluation run context.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{zl: l.zl.With().Str("run_id", runID).Logger()}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
