package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/honeynil/saukimart/internal/infrastructure/redis"
	"github.com/honeynil/saukimart/internal/models"
	"github.com/honeynil/saukimart/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	catalogVersionKey = "catalog:version"
	catalogTTL        = 24 * time.Hour
)

// CatalogService is a read-through Redis cache over the catalog tables.
// Cached keys embed a version so Invalidate drops every entry at once.
type CatalogService struct {
	repo  repository.CatalogRepository
	cache redis.RedisClient
	ttl   time.Duration
}

func NewCatalogService(repo repository.CatalogRepository, cache redis.RedisClient) *CatalogService {
	return &CatalogService{repo: repo, cache: cache, ttl: catalogTTL}
}

func (s *CatalogService) GetPlan(ctx context.Context, id int64) (*models.DataPlan, error) {
	var plan models.DataPlan
	err := s.readThrough(ctx, fmt.Sprintf("plan:%d", id), &plan, func() (any, error) {
		return s.repo.GetPlan(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.readThrough(ctx, fmt.Sprintf("product:%d", id), &product, func() (any, error) {
		return s.repo.GetProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *CatalogService) ListPlans(ctx context.Context) ([]models.DataPlan, error) {
	var plans []models.DataPlan
	err := s.readThrough(ctx, "plans", &plans, func() (any, error) {
		return s.repo.ListPlans(ctx)
	})
	return plans, err
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.readThrough(ctx, "products", &products, func() (any, error) {
		return s.repo.ListProducts(ctx)
	})
	return products, err
}

// Invalidate moves the catalog to a new version; old entries age out by TTL.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	tracer := otel.Tracer("catalog-service")
	ctx, span := tracer.Start(ctx, "Invalidate")
	defer span.End()

	version := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := s.cache.Set(ctx, catalogVersionKey, version, 0); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to bump catalog version")
		slog.Error("failed to invalidate catalog cache", "error", err)
		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}
	slog.Info("catalog cache invalidated", "version", version)
	return nil
}

func (s *CatalogService) key(ctx context.Context, name string) string {
	version, err := s.cache.Get(ctx, catalogVersionKey)
	if err != nil {
		version = "0"
	}
	return "catalog:" + version + ":" + name
}

// readThrough fills dst from cache or from load. Cache failures degrade to
// the database and are only logged.
func (s *CatalogService) readThrough(ctx context.Context, name string, dst any, load func() (any, error)) error {
	key := s.key(ctx, name)

	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		if err := json.Unmarshal([]byte(cached), dst); err == nil {
			slog.Debug("catalog cache hit", "key", key)
			return nil
		}
		slog.Warn("dropping undecodable catalog entry", "key", key)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("catalog cache unavailable", "key", key, "error", err)
	}

	value, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode catalog entry: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode catalog entry: %w", err)
	}
	if err := s.cache.Set(ctx, key, string(data), s.ttl); err != nil {
		slog.Warn("failed to cache catalog entry", "key", key, "error", err)
	}
	return nil
}
