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

package adapters

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
	level  LogLevel
}

// NewZerologLogger creates a zerolog-backed logger writing JSON lines to w.
// When console is true, output is rendered with zerolog's human-readable console writer.
func NewZerologLogger(w io.Writer, level LogLevel, console bool) Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return &ZerologLogger{
		logger: zerolog.New(w).Level(level.zerologLevel()).With().Timestamp().Logger(),
		level:  level,
	}
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, l.logger.Debug(), msg, fields)
}

func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, l.logger.Info(), msg, fields)
}

func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, l.logger.Warn(), msg, fields)
}

func (l *ZerologLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, l.logger.Error(), msg, fields)
}

// WithFields returns a new logger with the fields attached to every entry.
func (l *ZerologLogger) WithFields(fields ...Field) Logger {
	zctx := l.logger.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{
		logger: zctx.Logger(),
		level:  l.level,
	}
}

func (l *ZerologLogger) Level() LogLevel {
	return l.level
}

// emit writes the context fields ahead of fields. event is nil when the
// level is disabled.
func (l *ZerologLogger) emit(ctx context.Context, event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, f := range FieldsFromContext(ctx) {
		event = event.Interface(f.Key, f.Value)
	}
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
