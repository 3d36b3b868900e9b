package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/saukimart/internal/infrastructure/redis"
	"github.com/honeynil/saukimart/internal/models"
	"github.com/honeynil/saukimart/internal/repository"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	announcementKey    = "settings:announcement"
	announcementTTL    = time.Minute
	maxAnnouncementLen = 500
)

// AnnouncementService serves the storefront banner. Reads never fail: any
// storage problem shows an inactive banner.
type AnnouncementService struct {
	repo  repository.SettingsRepository
	cache redis.RedisClient
}

func NewAnnouncementService(repo repository.SettingsRepository, cache redis.RedisClient) *AnnouncementService {
	return &AnnouncementService{repo: repo, cache: cache}
}

func (s *AnnouncementService) Current(ctx context.Context) models.Announcement {
	tracer := otel.Tracer("announcement-service")
	ctx, span := tracer.Start(ctx, "Current")
	defer span.End()

	if cached, err := s.cache.Get(ctx, announcementKey); err == nil {
		var a models.Announcement
		if err := json.Unmarshal([]byte(cached), &a); err == nil {
			return a
		}
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("announcement cache unavailable", "error", err)
	}

	a, err := s.repo.GetAnnouncement(ctx)
	switch {
	case stderrors.Is(err, pkgerrors.ErrAnnouncementNotFound):
		a = &models.Announcement{}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "announcement lookup failed")
		slog.Error("failed to load announcement", "error", err)
		return models.Announcement{}
	}
	s.store(ctx, *a)
	return *a
}

// Publish replaces the banner. An active banner needs a message.
func (s *AnnouncementService) Publish(ctx context.Context, message string, active bool) (*models.Announcement, error) {
	tracer := otel.Tracer("announcement-service")
	ctx, span := tracer.Start(ctx, "Publish")
	defer span.End()

	message = strings.TrimSpace(message)
	if active && message == "" {
		span.SetStatus(codes.Error, "invalid input")
		return nil, fmt.Errorf("%w: an active announcement needs a message", pkgerrors.ErrInvalidInput)
	}
	if len(message) > maxAnnouncementLen {
		span.SetStatus(codes.Error, "invalid input")
		return nil, fmt.Errorf("%w: announcement longer than %d bytes", pkgerrors.ErrInvalidInput, maxAnnouncementLen)
	}

	a, err := s.repo.SaveAnnouncement(ctx, message, active)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "announcement save failed")
		return nil, err
	}
	s.store(ctx, *a)
	slog.Info("announcement published", "is_active", a.IsActive)
	return a, nil
}

func (s *AnnouncementService) store(ctx context.Context, a models.Announcement) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, announcementKey, string(data), announcementTTL); err != nil {
		slog.Warn("failed to cache announcement", "error", err)
	}
}
