package repository

import (
	"context"

	"github.com/honeynil/saukimart/internal/models"
)

type SettingsRepository interface {
	GetAnnouncement(ctx context.Context) (*models.Announcement, error)
	SaveAnnouncement(ctx context.Context, message string, active bool) (*models.Announcement, error)
}
