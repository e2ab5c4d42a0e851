// Package logging provides structured logging for penf-chat services.
// It wraps zerolog to provide a consistent logging interface with support for
// JSON output (production) and human-readable output (development).
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys for trace information.
const (
	TraceIDKey   ContextKey = "trace_id"
	RequestIDKey ContextKey = "request_id"
	EntityIDKey  ContextKey = "entity_id"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level Level `yaml:"level"`

	// ServiceName is included in all log entries.
	ServiceName string `yaml:"service_name"`

	// Environment is included in all log entries (e.g., "development", "production").
	Environment string `yaml:"environment"`

	// JSONFormat enables JSON output when true, human-readable when false.
	JSONFormat bool `yaml:"json"`

	// Output sets the writer for logs (defaults to os.Stdout).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "penf-chat",
		Environment: "development",
		JSONFormat:  false,
		Output:      os.Stdout,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional fields.
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields.
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger with the given fields attached to all subsequent logs.
	With(fields ...Field) Logger

	// WithContext returns a new Logger that extracts trace information from the context.
	WithContext(ctx context.Context) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Component tags a logger with the component name.
func Component(l Logger, name string) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l.With(F("component", name))
}

type logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zl := zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger()

	return &logger{zl: zl}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) {
	addFields(l.zl.Debug(), fields).Msg(msg)
}

func (l *logger) Info(msg string, fields ...Field) {
	addFields(l.zl.Info(), fields).Msg(msg)
}

func (l *logger) Warn(msg string, fields ...Field) {
	addFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *logger) Error(msg string, fields ...Field) {
	addFields(l.zl.Error(), fields).Msg(msg)
}

func (l *logger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = addFieldToContext(ctx, f)
	}
	return &logger{zl: ctx.Logger()}
}

// WithContext copies trace_id, request_id and entity_id from ctx when present.
func (l *logger) WithContext(ctx context.Context) Logger {
	zctx := l.zl.With()
	for _, key := range []ContextKey{TraceIDKey, RequestIDKey, EntityIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			zctx = zctx.Str(string(key), v)
		}
	}
	return &logger{zl: zctx.Logger()}
}

// addFields adds multiple fields to a zerolog event.
func addFields(event *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case float64:
			event = event.Float64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case error:
			event = event.Err(v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case time.Time:
			event = event.Time(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	return event
}

// addFieldToContext adds a field to a zerolog context.
func addFieldToContext(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case int64:
		return ctx.Int64(f.Key, v)
	case float64:
		return ctx.Float64(f.Key, v)
	case bool:
		return ctx.Bool(f.Key, v)
	case error:
		return ctx.Err(v)
	case time.Duration:
		return ctx.Dur(f.Key, v)
	case time.Time:
		return ctx.Time(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

// ContextWithEntity returns a copy of ctx carrying the entity id for log correlation.
func ContextWithEntity(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, EntityIDKey, entityID)
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }

// NewNopLogger returns a logger that discards all output.
// Useful for testing when you don't want log noise.
func NewNopLogger() Logger {
	return &nopLogger{}
}
