package repository

import (
	"context"

	"github.com/honeynil/saukimart/internal/models"
)

type CatalogRepository interface {
	GetPlan(ctx context.Context, id int64) (*models.DataPlan, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListPlans(ctx context.Context) ([]models.DataPlan, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
}
