package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/austindbirch/harbor_notify/internal/tracing"
)

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
	zl      *zap.Logger
}

// New creates a JSON logger for the given service at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func New(service, level string) *Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewExample()
	}
	return FromZap(service, zl)
}

// FromZap wraps an existing zap logger. Used by tests with an observer core.
func FromZap(service string, zl *zap.Logger) *Logger {
	if service != "" {
		zl = zl.With(zap.String("service", service))
	}
	return &Logger{service: service, zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger { return l.zl }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.zl.Sync() }

// Named returns a child logger with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{service: l.service, zl: l.zl.With(zap.String("component", component))}
}

// LogEntry accumulates fields for a log line. With* methods return a new
// entry, so a base entry can be shared across several lines.
type LogEntry struct {
	zl     *zap.Logger
	fields []zap.Field
}

func (e *LogEntry) with(f ...zap.Field) *LogEntry {
	fields := make([]zap.Field, 0, len(e.fields)+len(f))
	fields = append(fields, e.fields...)
	return &LogEntry{zl: e.zl, fields: append(fields, f...)}
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.Plain()
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		entry = entry.with(zap.String("trace_id", traceID))
	}
	if spanID := tracing.GetSpanID(ctx); spanID != "" {
		entry = entry.with(zap.String("span_id", spanID))
	}
	return entry
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.Plain().WithFields(fields)
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return &LogEntry{zl: l.zl}
}

// WithRequest sets the request ID for the log entry
func (e *LogEntry) WithRequest(requestID string) *LogEntry {
	return e.WithField("request_id", requestID)
}

// WithCorrelation sets the correlation ID for the log entry
func (e *LogEntry) WithCorrelation(correlationID string) *LogEntry {
	return e.WithField("correlation_id", correlationID)
}

// WithChannel sets the delivery channel for the log entry
func (e *LogEntry) WithChannel(channel string) *LogEntry {
	return e.WithField("channel", channel)
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	return e.with(zap.Any(key, value))
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	add := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		add = append(add, zap.Any(k, v))
	}
	return e.with(add...)
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err == nil {
		return e
	}
	return e.with(zap.String("error", err.Error()))
}

func (e *LogEntry) Debug(message string) { e.zl.Debug(message, e.fields...) }

func (e *LogEntry) Debugf(format string, args ...any) {
	e.zl.Debug(fmt.Sprintf(format, args...), e.fields...)
}

func (e *LogEntry) Info(message string) { e.zl.Info(message, e.fields...) }

func (e *LogEntry) Infof(format string, args ...any) {
	e.zl.Info(fmt.Sprintf(format, args...), e.fields...)
}

func (e *LogEntry) Warn(message string) { e.zl.Warn(message, e.fields...) }

func (e *LogEntry) Warnf(format string, args ...any) {
	e.zl.Warn(fmt.Sprintf(format, args...), e.fields...)
}

func (e *LogEntry) Error(message string) { e.zl.Error(message, e.fields...) }

func (e *LogEntry) Errorf(format string, args ...any) {
	e.zl.Error(fmt.Sprintf(format, args...), e.fields...)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) { e.zl.Fatal(message, e.fields...) }
