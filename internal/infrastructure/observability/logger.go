package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

func InitLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type txRefKey struct{}

// WithTxRef stores the correlation reference so downstream logs carry it.
func WithTxRef(ctx context.Context, txRef string) context.Context {
	return context.WithValue(ctx, txRefKey{}, txRef)
}

// Logger returns the default logger enriched with the tx_ref in ctx, if any.
func Logger(ctx context.Context, attrs ...any) *slog.Logger {
	if ref, ok := ctx.Value(txRefKey{}).(string); ok && ref != "" {
		attrs = append(attrs, "tx_ref", ref)
	}
	return slog.With(attrs...)
}
