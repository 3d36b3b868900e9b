package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/saukimart/internal/models"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerSettings = "settings-repository"
	settingsRowID  = "settings"
)

// PostgresSettingsRepository keeps site-wide settings in a single row.
type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) GetAnnouncement(ctx context.Context) (a *models.Announcement, err error) {
	ctx, finish := startOp(ctx, tracerSettings, "GetAnnouncement")
	defer func() { finish(err) }()

	query := `SELECT announcement, is_active, updated_at FROM system_settings WHERE id = $1`
	var out models.Announcement
	err = r.db.QueryRowContext(ctx, query, settingsRowID).Scan(&out.Message, &out.IsActive, &out.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrAnnouncementNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get announcement: %w", err)
	}
	return &out, nil
}

func (r *PostgresSettingsRepository) SaveAnnouncement(ctx context.Context, message string, active bool) (a *models.Announcement, err error) {
	ctx, finish := startOp(ctx, tracerSettings, "SaveAnnouncement", attribute.Bool("is_active", active))
	defer func() { finish(err) }()

	query := `INSERT INTO system_settings (id, announcement, is_active, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET announcement = EXCLUDED.announcement, is_active = EXCLUDED.is_active, updated_at = NOW()
		RETURNING announcement, is_active, updated_at`
	var out models.Announcement
	err = r.db.QueryRowContext(ctx, query, settingsRowID, message, active).Scan(&out.Message, &out.IsActive, &out.UpdatedAt)
	if err != nil {
		slog.Error("failed to save announcement", "method", "SaveAnnouncement", "error", err)
		return nil, fmt.Errorf("failed to save announcement: %w", err)
	}
	slog.Info("announcement saved", "method", "SaveAnnouncement", "is_active", active)
	return &out, nil
}
