package logger

import (
	"context"
	"log/slog"
	"os"
)

// New builds the process-wide JSON logger. Anything short of "production"
// logs at debug so local webhook traffic is fully visible; every line
// carries the env so aggregated logs from mixed deployments stay sortable.
func New(appEnv string) *slog.Logger {
	level := slog.LevelDebug
	if appEnv == "production" {
		level = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("env", appEnv)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the context's logger, falling back to slog.Default().
// Services log through this so request-scoped attributes (request_id)
// follow the call into repositories and collaborator clients.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
