package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// New returns the process logger. JSON output, debug level outside staging/production.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(appEnv string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "leasing-telephony")
}

// Discard returns a logger that drops everything. Used by tests and optional collaborators.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush is a placeholder for future log flushing (if a buffered logger is used).
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
