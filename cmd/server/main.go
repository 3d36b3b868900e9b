package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/saukimart/internal/api"
	"github.com/honeynil/saukimart/internal/config"
	"github.com/honeynil/saukimart/internal/gateway/delivery"
	"github.com/honeynil/saukimart/internal/gateway/payment"
	"github.com/honeynil/saukimart/internal/handler"
	"github.com/honeynil/saukimart/internal/infrastructure/kafka"
	"github.com/honeynil/saukimart/internal/infrastructure/lock"
	"github.com/honeynil/saukimart/internal/infrastructure/redis"
	"github.com/honeynil/saukimart/internal/observability"
	core "github.com/honeynil/saukimart/internal/repository/postgres"
	service "github.com/honeynil/saukimart/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdown := observability.Setup("saukimart", cfg)
	defer shutdown(context.Background())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to open Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	cancel()

	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		slog.Error("Redis is required for sessions, catalog cache and delivery locks", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	payments := payment.NewClient(payment.Config{
		BaseURL:       cfg.FlutterwaveBaseURL,
		SecretKey:     cfg.FlutterwaveSecretKey,
		WebhookHash:   cfg.FlutterwaveWebhookHash,
		AccountName:   cfg.MerchantAccountName,
		CustomerEmail: cfg.MerchantEmail,
		Timeout:       cfg.VerifyTimeout,
	})
	deliveries, err := delivery.NewClient(delivery.Config{
		BaseURL:  cfg.AmigoBaseURL,
		APIKey:   cfg.AmigoAPIKey,
		ProxyURL: cfg.EgressProxyURL,
		Timeout:  cfg.DeliveryTimeout,
	})
	if err != nil {
		slog.Error("failed to build delivery client", "error", err)
		os.Exit(1)
	}

	var locker lock.Locker = lock.NewRedis(redisClient)
	if cfg.DeliveryLockBackend == "local" {
		slog.Warn("using in-process delivery lock, run a single instance only")
		locker = lock.NewLocal()
	}

	transactionRepo := core.NewPostgresTransactionRepository(db)
	catalogRepo := core.NewPostgresCatalogRepository(db)
	settingsRepo := core.NewPostgresSettingsRepository(db)

	catalog := service.NewCatalogService(catalogRepo, redisClient)
	reconciler := service.NewReconciliationService(
		transactionRepo,
		catalog,
		payments,
		deliveries,
		locker,
		producer,
		service.ReconciliationConfig{
			DataEndpoint: cfg.AmigoDataEndpoint,
			LockTTL:      cfg.DeliveryLockTTL,
			LockWait:     cfg.DeliveryLockWait,
		},
	)
	checkout := service.NewCheckoutService(transactionRepo, catalog, payments, producer)
	admin, err := service.NewAdminService(service.AdminConfig{
		PasswordHash: cfg.AdminPasswordHash,
		Password:     cfg.AdminPassword,
		JWTSecret:    cfg.JWTSecret,
		SessionTTL:   cfg.AdminSessionTTL,
	}, redisClient, transactionRepo, deliveries, producer)
	if err != nil {
		slog.Error("failed to set up admin service", "error", err)
		os.Exit(1)
	}

	announcements := service.NewAnnouncementService(settingsRepo, redisClient)

	h := handler.NewHandler(reconciler, checkout, admin, catalog, announcements)
	h.TrustProxies(cfg.TrustedProxyPrefixes())
	router := api.SetupRouter(h)

	// Request handlers wait on the delivery provider for up to DeliveryTimeout.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.DeliveryLockWait + cfg.DeliveryTimeout + 15*time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}
