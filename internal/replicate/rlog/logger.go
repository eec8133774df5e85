// Package rlog wraps log/slog the same way the daemon's internal logger
// does: a small value type carrying a *slog.Logger, passed by value through
// call chains so most callers never import log/slog directly.
package rlog

import (
	"context"
	"io"
	"log/slog"
)

// Logger is a thin structured-logging handle. The zero value logs to
// slog.Default(), matching the teacher's habit of letting an unconfigured
// logger silently fall back rather than panicking on a nil field.
type Logger struct {
	logger *slog.Logger
}

// New wraps an existing *slog.Logger.
func New(l *slog.Logger) Logger {
	return Logger{logger: l}
}

// Discard returns a Logger that drops everything, for tests.
func Discard() Logger {
	return Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l Logger) sl() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

func (l Logger) Debug(msg string, args ...any) { l.sl().Debug(msg, args...) }
func (l Logger) Info(msg string, args ...any)  { l.sl().Info(msg, args...) }
func (l Logger) Warn(msg string, args ...any)  { l.sl().Warn(msg, args...) }
func (l Logger) Error(msg string, args ...any) { l.sl().Error(msg, args...) }

// With returns a Logger with the given attributes attached to every
// subsequent record, e.g. rlog.With("item_id", id).
func (l Logger) With(args ...any) Logger {
	return Logger{logger: l.sl().With(args...)}
}

// ErrorContext logs at error level honoring ctx cancellation attribution,
// used on the resolver-failure path where the caller already holds a ctx.
func (l Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sl().ErrorContext(ctx, msg, args...)
}
