package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/honeynil/saukimart/internal/models"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const tracerCatalog = "catalog-repository"

type PostgresCatalogRepository struct {
	db *sql.DB
}

func NewPostgresCatalogRepository(db *sql.DB) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

func (r *PostgresCatalogRepository) GetPlan(ctx context.Context, id int64) (plan *models.DataPlan, err error) {
	ctx, finish := startOp(ctx, tracerCatalog, "GetPlan", attribute.Int64("plan_id", id))
	defer func() { finish(err) }()

	query := `SELECT id, network, data_amount, validity, price, provider_plan_id FROM data_plans WHERE id = $1`
	var p models.DataPlan
	err = r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Network, &p.DataAmount, &p.Validity, &p.Price, &p.ProviderPlanID)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPlanNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

func (r *PostgresCatalogRepository) GetProduct(ctx context.Context, id int64) (product *models.Product, err error) {
	ctx, finish := startOp(ctx, tracerCatalog, "GetProduct", attribute.Int64("product_id", id))
	defer func() { finish(err) }()

	query := `SELECT id, name, description, price, image, in_stock FROM products WHERE id = $1`
	var p models.Product
	err = r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Image, &p.InStock)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrProductNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// ListPlans returns every plan, cheapest first.
func (r *PostgresCatalogRepository) ListPlans(ctx context.Context) (plans []models.DataPlan, err error) {
	ctx, finish := startOp(ctx, tracerCatalog, "ListPlans")
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, network, data_amount, validity, price, provider_plan_id FROM data_plans ORDER BY price, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.DataPlan
		if err = rows.Scan(&p.ID, &p.Network, &p.DataAmount, &p.Validity, &p.Price, &p.ProviderPlanID); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

// ListProducts returns the products currently in stock, newest first.
func (r *PostgresCatalogRepository) ListProducts(ctx context.Context) (products []models.Product, err error) {
	ctx, finish := startOp(ctx, tracerCatalog, "ListProducts")
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, price, image, in_stock FROM products WHERE in_stock ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Product
		if err = rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Image, &p.InStock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}
