// Package logging defines the structured logger shared by the gate components.
//
// Arguments after the message are slog key/value pairs:
//
//	log.Warn(ctx, "rate limiter degraded", "key", key, "op", op, "latency", latency)
package logging

import (
	"context"
	"io"
	"log/slog"
)

// Logger is a context-aware, structured logger.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key/value pairs.
	With(args ...any) Logger
}

// SlogLogger adapts *slog.Logger to [Logger].
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l. A nil l falls back to slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

// Nop returns a logger that drops every record.
func Nop() *SlogLogger {
	return &SlogLogger{l: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, args...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...)}
}

// Slog exposes the wrapped logger for components that take *slog.Logger directly.
func (s *SlogLogger) Slog() *slog.Logger {
	return s.l
}
