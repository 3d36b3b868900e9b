package observability

import (
	"context"

	"github.com/honeynil/saukimart/internal/config"
	"github.com/honeynil/saukimart/internal/infrastructure/observability"
)

func Setup(serviceName string, cfg *config.Config) func(context.Context) error {
	observability.InitLogger(cfg.LogLevel)
	observability.InitMetrics()
	return observability.InitTracing(serviceName, cfg.OTLPEndpoint)
}
