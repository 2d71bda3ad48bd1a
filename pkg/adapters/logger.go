// Copyright (c) 2025 Will Holley
//
// This file is part of couchcopy.
//
// couchcopy is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact the copyright holder for commercial licensing options.

// Package adapters holds the structured Logger shared by the replication
// runner, the backends and the status server, with slog and zerolog
// implementations.
//
// Fields attached to a context with ContextWithFields are added to every
// entry logged with that context. A run tags its context with its run ID so
// the writer, the checkpointer and the fetch workers need no logger of their
// own to report which run they belong to.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ErrUnknownLogLevel is returned when a log level name cannot be parsed.
var ErrUnknownLogLevel = errors.New("unknown log level")

// LogLevel is the severity of an entry.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLogLevel converts a level name (debug, info, warn, error) to a LogLevel.
// An empty name is InfoLevel.
func ParseLogLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("%w: %q", ErrUnknownLogLevel, name)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Field is a structured key-value pair of a log entry.
type Field struct {
	Key   string
	Value any
}

// ErrorField records err under the "error" key.
func ErrorField(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

type fieldsKey struct{}

// ContextWithFields returns a context whose log entries carry fields after
// any fields already attached to ctx.
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	parent := FieldsFromContext(ctx)
	merged := make([]Field, 0, len(parent)+len(fields))
	merged = append(merged, parent...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFromContext returns the fields attached by ContextWithFields.
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]Field)
	return fields
}

// Logger is the logging interface used throughout couchcopy. A nil context
// is accepted by every method.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// WithFields returns a Logger that adds fields to every entry.
	WithFields(fields ...Field) Logger

	// Level returns the minimum level written.
	Level() LogLevel
}

// SlogLogger writes JSON lines through log/slog. It is the default for
// --log-format json.
type SlogLogger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewDefaultLogger returns an info level SlogLogger on stderr.
func NewDefaultLogger() Logger {
	return NewSlogLogger(os.Stderr, InfoLevel)
}

// NewSlogLogger returns a SlogLogger writing entries at level or above to w.
func NewSlogLogger(w io.Writer, level LogLevel) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &SlogLogger{logger: slog.New(handler), level: level}
}

func (l *SlogLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *SlogLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *SlogLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *SlogLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *SlogLogger) WithFields(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = slog.Any(f.Key, f.Value)
	}
	return &SlogLogger{logger: l.logger.With(args...), level: l.level}
}

func (l *SlogLogger) Level() LogLevel {
	return l.level
}

func (l *SlogLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctxFields := FieldsFromContext(ctx)
	attrs := make([]slog.Attr, 0, len(ctxFields)+len(fields))
	for _, f := range ctxFields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	l.logger.LogAttrs(ctx, level.slogLevel(), msg, attrs...)
}

// NoOpLogger discards every entry.
type NoOpLogger struct{}

func NewNoOpLogger() Logger {
	return NoOpLogger{}
}

func (NoOpLogger) Debug(context.Context, string, ...Field) {}
func (NoOpLogger) Info(context.Context, string, ...Field)  {}
func (NoOpLogger) Warn(context.Context, string, ...Field)  {}
func (NoOpLogger) Error(context.Context, string, ...Field) {}
func (l NoOpLogger) WithFields(...Field) Logger            { return l }
func (NoOpLogger) Level() LogLevel                         { return ErrorLevel + 1 }
