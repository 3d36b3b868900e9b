package repository

import (
	"context"
	"time"

	"github.com/honeynil/saukimart/internal/infrastructure/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// startOp opens a span for a repository call and returns a finisher that
// records the outcome in the span and in the repository metrics.
func startOp(ctx context.Context, tracerName, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, op)
	span.SetAttributes(attrs...)
	start := time.Now()

	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(op, status).Inc()
		observability.RepositoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}
}
