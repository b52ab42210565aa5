/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logging

import (
	"context"
	"log/slog"
	"strings"

	dkplog "github.com/deckhouse/deckhouse/pkg/log"
)

const DefaultService = "kops-ai"

// Level is the minimum severity filter, ordered debug < info < warn < error < fatal.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "unknown"
}

// ParseLevel maps a level name to Level, falling back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return LevelInfo
}

// Sink receives filtered records. *dkplog.Logger and *slog.Logger both satisfy it.
type Sink interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Logger is the structured logger shared by the agent, the runner and plugins.
// Every record carries the service name and the trace id found in the context.
type Logger struct {
	sink    Sink
	service string
	level   Level
	attrs   []any
}

type Option func(*Logger)

func WithService(service string) Option {
	return func(l *Logger) {
		if service != "" {
			l.service = service
		}
	}
}

func WithLevel(level Level) Option {
	return func(l *Logger) {
		l.level = level
	}
}

// New wraps sink. Without options the service is kops-ai and the level is info.
func New(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:    sink,
		service: DefaultService,
		level:   LevelInfo,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewDefault builds a Logger on top of the deckhouse structured logger.
func NewDefault(service, level string) *Logger {
	lvl := ParseLevel(level)
	base := dkplog.NewLogger(
		dkplog.WithLevel(
			slog.Level(
				dkplog.LogLevelFromStr(lvl.String()),
			),
		),
	)
	return New(base.Named("kops"), WithService(service), WithLevel(lvl))
}

// NewNop returns a Logger that drops everything.
func NewNop() *Logger {
	return New(dkplog.NewNop(), WithLevel(LevelFatal+1))
}

// With returns a child logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	child := *l
	child.attrs = append(append([]any{}, l.attrs...), args...)
	return &child
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, args)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, args)
}

// Fatal records at error severity with fatal=true. It never exits the process.
func (l *Logger) Fatal(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelFatal, msg, append(args, slog.Bool("fatal", true)))
}

func (l *Logger) log(ctx context.Context, level Level, msg string, args []any) {
	if l == nil || l.sink == nil || !l.Enabled(level) {
		return
	}

	traceID := TraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	record := make([]any, 0, len(l.attrs)+len(args)+2)
	record = append(record, slog.String("service", l.service), slog.String("trace_id", traceID))
	record = append(record, l.attrs...)
	record = append(record, args...)

	switch level {
	case LevelDebug:
		l.sink.Debug(msg, record...)
	case LevelInfo:
		l.sink.Info(msg, record...)
	case LevelWarn:
		l.sink.Warn(msg, record...)
	default:
		l.sink.Error(msg, record...)
	}
}

// Err is the attribute used for errors across the code base.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
