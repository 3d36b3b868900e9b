package repository

import (
	"context"

	"github.com/honeynil/saukimart/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByRef(ctx context.Context, txRef string) (*models.Transaction, error)
	ListByPhone(ctx context.Context, phone string, limit int) ([]models.Transaction, error)
	// UpdateStatus moves the row to `to` only if its current status is one of
	// `from`. It reports false when the row was not in an expected state.
	UpdateStatus(ctx context.Context, id int64, from []models.StatusType, to models.StatusType, audit models.AuditFields) (bool, error)
	DeleteAll(ctx context.Context) (int64, error)
}
