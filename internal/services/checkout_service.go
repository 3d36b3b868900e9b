package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/saukimart/internal/gateway/payment"
	"github.com/honeynil/saukimart/internal/models"
	"github.com/honeynil/saukimart/internal/repository"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	dataRefPrefix      = "SAUKI-DATA"
	ecommerceRefPrefix = "SAUKI-COMM"
	trackLimit         = 20
)

type Catalog interface {
	PlanReader
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// CheckoutService opens bank-transfer charges and records the pending
// transaction the reconciliation engine later advances.
type CheckoutService struct {
	transactions repository.TransactionRepository
	catalog      Catalog
	payments     PaymentGateway
	events       EventPublisher
}

func NewCheckoutService(transactions repository.TransactionRepository, catalog Catalog, payments PaymentGateway, events EventPublisher) *CheckoutService {
	return &CheckoutService{transactions: transactions, catalog: catalog, payments: payments, events: events}
}

type ProductOrder struct {
	ProductID    int64
	Phone        string
	CustomerName string
	State        string
}

func (s *CheckoutService) InitiateDataPurchase(ctx context.Context, planID int64, phone string) (*models.PaymentInstructions, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "InitiateDataPurchase")
	defer span.End()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		span.SetStatus(codes.Error, "empty phone")
		return nil, fmt.Errorf("%w: phone is required", pkgerrors.ErrInvalidInput)
	}

	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan lookup failed")
		slog.Warn("data plan lookup failed", "plan_id", planID, "error", err)
		return nil, err
	}

	charge, err := s.payments.InitiateCharge(ctx, payment.ChargeRequest{
		RefPrefix: dataRefPrefix,
		Amount:    plan.Price,
		Phone:     phone,
		Meta: map[string]any{
			"type":    string(models.TypeData),
			"plan_id": plan.ID,
			"network": string(plan.Network),
			"data":    plan.DataAmount,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge initiation failed")
		return nil, err
	}

	tx := &models.Transaction{
		TxRef:       charge.TxRef,
		Type:        models.TypeData,
		Status:      models.StatusPending,
		Amount:      plan.Price,
		Phone:       phone,
		PlanID:      &plan.ID,
		PaymentData: charge.Raw,
	}
	if err := s.record(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction creation failed")
		return nil, err
	}

	slog.Info("data purchase initiated", "tx_ref", tx.TxRef, "plan_id", plan.ID, "amount", plan.Price)
	return &charge.PaymentInstructions, nil
}

func (s *CheckoutService) InitiateProductPurchase(ctx context.Context, order ProductOrder) (*models.PaymentInstructions, error) {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "InitiateProductPurchase")
	defer span.End()

	order.Phone = strings.TrimSpace(order.Phone)
	if order.Phone == "" {
		span.SetStatus(codes.Error, "empty phone")
		return nil, fmt.Errorf("%w: phone is required", pkgerrors.ErrInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, order.ProductID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product lookup failed")
		slog.Warn("product lookup failed", "product_id", order.ProductID, "error", err)
		return nil, err
	}
	if !product.InStock {
		span.SetStatus(codes.Error, "out of stock")
		return nil, fmt.Errorf("%w: product %d is out of stock", pkgerrors.ErrInvalidInput, product.ID)
	}

	charge, err := s.payments.InitiateCharge(ctx, payment.ChargeRequest{
		RefPrefix: ecommerceRefPrefix,
		Amount:    product.Price,
		Phone:     order.Phone,
		FullName:  order.CustomerName,
		Meta: map[string]any{
			"type":       string(models.TypeEcommerce),
			"product_id": product.ID,
			"state":      order.State,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge initiation failed")
		return nil, err
	}

	tx := &models.Transaction{
		TxRef:         charge.TxRef,
		Type:          models.TypeEcommerce,
		Status:        models.StatusPending,
		Amount:        product.Price,
		Phone:         order.Phone,
		ProductID:     &product.ID,
		CustomerName:  order.CustomerName,
		DeliveryState: order.State,
		PaymentData:   charge.Raw,
	}
	if err := s.record(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction creation failed")
		return nil, err
	}

	slog.Info("product purchase initiated", "tx_ref", tx.TxRef, "product_id", product.ID, "amount", product.Price)
	return &charge.PaymentInstructions, nil
}

// Track lists the newest transactions for a phone number.
func (s *CheckoutService) Track(ctx context.Context, phone string) ([]models.Transaction, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", pkgerrors.ErrInvalidInput)
	}
	return s.transactions.ListByPhone(ctx, phone, trackLimit)
}

func (s *CheckoutService) record(ctx context.Context, tx *models.Transaction) error {
	id, err := s.transactions.Create(ctx, tx)
	if err != nil {
		// The charge exists at the processor but we have no row for it.
		slog.Error("failed to record pending transaction", "tx_ref", tx.TxRef, "error", err)
		return err
	}
	tx.ID = id
	publishStatus(s.events, tx, "", models.StatusPending, TriggerCheckout)
	return nil
}
