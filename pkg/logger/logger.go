package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON to stdout always;
// the collector, not the process, decides where logs end up.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	switch appEnv {
	case "local", "dev", "test":
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("env", appEnv)
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
