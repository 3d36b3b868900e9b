package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/saukimart/internal/gateway/delivery"
	"github.com/honeynil/saukimart/internal/gateway/payment"
	"github.com/honeynil/saukimart/internal/infrastructure/lock"
	"github.com/honeynil/saukimart/internal/infrastructure/observability"
	"github.com/honeynil/saukimart/internal/models"
	"github.com/honeynil/saukimart/internal/repository"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type PaymentGateway interface {
	InitiateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error)
	VerifyCharge(ctx context.Context, txRef string, expected int64) payment.Verification
	VerifySignature(signature string) bool
}

type DeliveryGateway interface {
	Deliver(ctx context.Context, endpoint string, payload any, idempotencyKey string) (delivery.Result, error)
}

type PlanReader interface {
	GetPlan(ctx context.Context, id int64) (*models.DataPlan, error)
}

type ReconciliationConfig struct {
	DataEndpoint string
	LockTTL      time.Duration
	LockWait     time.Duration
}

// ReconciliationService owns every status change after checkout. Webhooks,
// client polls and operator actions all go through the same transition path.
type ReconciliationService struct {
	transactions repository.TransactionRepository
	plans        PlanReader
	payments     PaymentGateway
	deliveries   DeliveryGateway
	locker       lock.Locker
	events       EventPublisher
	cfg          ReconciliationConfig
}

func NewReconciliationService(
	transactions repository.TransactionRepository,
	plans PlanReader,
	payments PaymentGateway,
	deliveries DeliveryGateway,
	locker lock.Locker,
	events EventPublisher,
	cfg ReconciliationConfig,
) *ReconciliationService {
	if cfg.DataEndpoint == "" {
		cfg.DataEndpoint = "data"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 90 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 75 * time.Second
	}
	return &ReconciliationService{
		transactions: transactions,
		plans:        plans,
		payments:     payments,
		deliveries:   deliveries,
		locker:       locker,
		events:       events,
		cfg:          cfg,
	}
}

// maxCASRounds bounds how often Confirm reloads after losing a status race.
const maxCASRounds = 3

// Confirm drives txRef as far forward as the external systems allow and
// returns the stored state. Transient payment or delivery failures are not
// errors; the transaction simply stays where it is.
func (s *ReconciliationService) Confirm(ctx context.Context, txRef string, trigger Trigger) (*models.Transaction, error) {
	tracer := otel.Tracer("reconciliation-service")
	ctx, span := tracer.Start(ctx, "Confirm", traceAttrs(txRef, trigger)...)
	defer span.End()

	ctx = observability.WithTxRef(ctx, txRef)
	logger := observability.Logger(ctx, "trigger", trigger)

	tx, err := s.transactions.GetByRef(ctx, txRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction lookup failed")
		logger.Error("failed to load transaction", "error", err)
		return nil, err
	}

	for round := 0; round < maxCASRounds; round++ {
		switch tx.Status {
		case models.StatusDelivered, models.StatusFailed:
			logger.Debug("transaction already terminal", "status", tx.Status)
			return tx, nil

		case models.StatusPaid:
			if tx.Type != models.TypeData {
				return tx, nil
			}
			return s.deliver(ctx, tx, trigger)

		case models.StatusPending:
			v := s.payments.VerifyCharge(ctx, txRef, tx.Amount)
			var next models.StatusType
			switch {
			case v.Settled:
				next = models.StatusPaid
			case v.Rejected:
				next = models.StatusFailed
			default:
				logger.Info("payment not settled yet", "reason", v.Reason, "processor_status", v.ProcessorStatus)
				return tx, nil
			}

			won, err := s.transition(ctx, tx, next, models.AuditFields{PaymentData: v.Raw}, trigger)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "status update failed")
				return nil, err
			}
			if !won {
				if tx, err = s.reload(ctx, tx.ID); err != nil {
					return nil, err
				}
			}

		default:
			return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidTransactionStatus, tx.Status)
		}
	}

	logger.Warn("transaction kept changing under confirm", "status", tx.Status)
	return tx, nil
}

// HandleWebhook authenticates a processor push and, for successful
// payments, re-verifies it through Confirm. The body itself is never
// trusted as proof of settlement.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, signature string, body []byte) (*models.Transaction, error) {
	tracer := otel.Tracer("reconciliation-service")
	ctx, span := tracer.Start(ctx, "HandleWebhook")
	defer span.End()

	if !s.payments.VerifySignature(signature) {
		span.SetStatus(codes.Error, "invalid signature")
		observability.Logger(ctx).Warn("rejected webhook with invalid signature", "signature_present", signature != "")
		return nil, pkgerrors.ErrInvalidSignature
	}

	txRef, status, err := parseWebhook(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid webhook payload")
		return nil, err
	}

	logger := observability.Logger(ctx, "tx_ref", txRef, "status", status)
	if status != "successful" {
		logger.Info("ignoring webhook status")
		return nil, nil
	}

	logger.Info("webhook accepted")
	return s.Confirm(ctx, txRef, TriggerWebhook)
}

// RetryDelivery re-runs the pipeline for an operator. Only data orders have
// anything to retry.
func (s *ReconciliationService) RetryDelivery(ctx context.Context, txRef string) (*models.Transaction, error) {
	tx, err := s.transactions.GetByRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if tx.Type != models.TypeData {
		return nil, fmt.Errorf("%w: %s is not a data order", pkgerrors.ErrInvalidInput, txRef)
	}
	return s.Confirm(ctx, txRef, TriggerRetry)
}

// ManualTopup records an operator-funded data order as paid, bypassing the
// processor, and delivers it. amount is the override recorded for audit.
func (s *ReconciliationService) ManualTopup(ctx context.Context, phone string, planID, amount int64) (*models.Transaction, error) {
	tracer := otel.Tracer("reconciliation-service")
	ctx, span := tracer.Start(ctx, "ManualTopup")
	defer span.End()

	phone = strings.TrimSpace(phone)
	if phone == "" || amount < 0 {
		span.SetStatus(codes.Error, "invalid input")
		return nil, fmt.Errorf("%w: phone is required and amount must not be negative", pkgerrors.ErrInvalidInput)
	}
	if _, err := s.plans.GetPlan(ctx, planID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan lookup failed")
		return nil, err
	}

	tx := &models.Transaction{
		TxRef:       "ADMIN-MANUAL-" + uuid.NewString()[:8],
		Type:        models.TypeData,
		Status:      models.StatusPaid,
		Amount:      amount,
		Phone:       phone,
		PlanID:      &planID,
		PaymentData: json.RawMessage(`{"method":"manual"}`),
	}
	id, err := s.transactions.Create(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction creation failed")
		observability.Logger(ctx).Error("failed to record manual topup", "phone", phone, "plan_id", planID, "error", err)
		return nil, err
	}
	tx.ID = id

	ctx = observability.WithTxRef(ctx, tx.TxRef)
	observability.Transitions.WithLabelValues(string(TriggerManual), "", string(models.StatusPaid)).Inc()
	publishStatus(s.events, tx, "", models.StatusPaid, TriggerManual)
	observability.Logger(ctx).Info("manual topup recorded", "phone", phone, "plan_id", planID, "amount", amount)

	return s.deliver(ctx, tx, TriggerManual)
}

// deliver performs the paid -> delivered step under the per-reference lock.
// Whoever loses the lock waits for the holder and then sees its result, so
// the provider is called at most once per successful delivery.
func (s *ReconciliationService) deliver(ctx context.Context, tx *models.Transaction, trigger Trigger) (*models.Transaction, error) {
	tracer := otel.Tracer("reconciliation-service")
	ctx, span := tracer.Start(ctx, "Deliver", traceAttrs(tx.TxRef, trigger)...)
	defer span.End()

	logger := observability.Logger(ctx, "trigger", trigger)

	release, err := s.locker.Acquire(ctx, "delivery:"+tx.TxRef, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		logger.Warn("delivery already in progress elsewhere", "error", err)
		current, rerr := s.reload(ctx, tx.ID)
		if rerr != nil {
			return tx, nil
		}
		return current, nil
	}
	defer release()

	current, err := s.reload(ctx, tx.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if current.Status != models.StatusPaid || current.Type != models.TypeData {
		logger.Info("delivery not needed", "status", current.Status)
		return current, nil
	}

	payload, err := s.dataPayload(ctx, current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery payload unresolved")
		logger.Error("cannot build delivery request", "error", err)
		return current, err
	}

	res, err := s.deliveries.Deliver(ctx, s.cfg.DataEndpoint, payload, current.TxRef)
	if err != nil {
		span.RecordError(err)
		logger.Error("delivery gateway misconfigured", "error", err)
		observability.DeliveryAttempts.WithLabelValues("error").Inc()
		s.recordAttempt(ctx, current, res, delivery.OutcomeFailed, trigger, err)
		return current, nil
	}

	outcome := delivery.OutcomeFailed
	if res.Success {
		outcome = delivery.Classify(res.Body)
	}
	observability.DeliveryAttempts.WithLabelValues(outcome.String()).Inc()

	if outcome != delivery.OutcomeDelivered {
		notDelivered := fmt.Errorf("%w: outcome %s, http status %d", pkgerrors.ErrDeliveryTransient, outcome, res.HTTPStatus)
		span.RecordError(notDelivered)
		span.SetStatus(codes.Error, "delivery not confirmed")
		if outcome == delivery.OutcomeUnknown {
			logger.Warn("unrecognised delivery response shape", "error", notDelivered, "body", string(res.Body))
		} else {
			logger.Warn("delivery failed, transaction stays paid", "error", notDelivered, "body", string(res.Body))
		}
		s.recordAttempt(ctx, current, res, outcome, trigger, notDelivered)
		return current, nil
	}

	won, err := s.transition(ctx, current, models.StatusDelivered, models.AuditFields{DeliveryData: res.Body}, trigger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		return nil, err
	}
	if !won {
		return s.reload(ctx, current.ID)
	}
	logger.Info("data delivered", "http_status", res.HTTPStatus)
	return current, nil
}

func (s *ReconciliationService) dataPayload(ctx context.Context, tx *models.Transaction) (delivery.DataPayload, error) {
	if tx.PlanID == nil {
		return delivery.DataPayload{}, pkgerrors.ErrPlanNotFound
	}
	plan, err := s.plans.GetPlan(ctx, *tx.PlanID)
	if err != nil {
		return delivery.DataPayload{}, err
	}
	networkID, ok := delivery.NetworkID(plan.Network)
	if !ok {
		return delivery.DataPayload{}, fmt.Errorf("%w: %s", pkgerrors.ErrUnknownNetwork, plan.Network)
	}
	return delivery.DataPayload{
		Network:      networkID,
		MobileNumber: tx.Phone,
		Plan:         plan.ProviderPlanID,
		PortedNumber: true,
	}, nil
}

// transition applies a compare-and-swap from tx.Status to next. It reports
// false without error when another writer moved the row first.
func (s *ReconciliationService) transition(ctx context.Context, tx *models.Transaction, next models.StatusType, audit models.AuditFields, trigger Trigger) (bool, error) {
	from := tx.Status
	if !from.CanAdvanceTo(next) {
		return false, fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidTransactionStatus, from, next)
	}

	logger := observability.Logger(ctx, "trigger", trigger, "from", from, "to", next)
	won, err := s.transactions.UpdateStatus(ctx, tx.ID, []models.StatusType{from}, next, audit)
	if err != nil {
		logger.Error("failed to update transaction status", "error", err)
		return false, err
	}
	if !won {
		logger.Info("status already moved by a concurrent trigger")
		return false, nil
	}

	tx.Status = next
	if audit.PaymentData != nil {
		tx.PaymentData = audit.PaymentData
	}
	if audit.DeliveryData != nil {
		tx.DeliveryData = audit.DeliveryData
	}

	observability.Transitions.WithLabelValues(string(trigger), string(from), string(next)).Inc()
	publishStatus(s.events, tx, from, next, trigger)
	logger.Info("transaction status changed")
	return true, nil
}

type deliveryAttempt struct {
	Outcome     string          `json:"outcome"`
	HTTPStatus  int             `json:"http_status"`
	Response    json.RawMessage `json:"response,omitempty"`
	Trigger     Trigger         `json:"trigger"`
	Error       string          `json:"error,omitempty"`
	AttemptedAt string          `json:"attempted_at"`
}

// recordAttempt stores the failed attempt on a row that stays paid, so
// operators can see why the order is still waiting.
func (s *ReconciliationService) recordAttempt(ctx context.Context, tx *models.Transaction, res delivery.Result, outcome delivery.Outcome, trigger Trigger, cause error) {
	snapshot, err := json.Marshal(deliveryAttempt{
		Outcome:     outcome.String(),
		HTTPStatus:  res.HTTPStatus,
		Response:    res.Body,
		Trigger:     trigger,
		Error:       cause.Error(),
		AttemptedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		observability.Logger(ctx).Error("failed to encode delivery attempt", "error", err)
		return
	}

	paid := []models.StatusType{models.StatusPaid}
	if _, err := s.transactions.UpdateStatus(ctx, tx.ID, paid, models.StatusPaid, models.AuditFields{DeliveryData: snapshot}); err != nil {
		observability.Logger(ctx).Error("failed to record delivery attempt", "error", err)
		return
	}
	tx.DeliveryData = snapshot
}

func (s *ReconciliationService) reload(ctx context.Context, id int64) (*models.Transaction, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		observability.Logger(ctx).Error("failed to reload transaction", "error", err)
		return nil, err
	}
	return tx, nil
}

type webhookPayload struct {
	TxRef    string          `json:"txRef"`
	TxRefAlt string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
}

// parseWebhook accepts the reference as txRef or tx_ref, at the top level
// or nested under data.
func parseWebhook(body []byte) (txRef, status string, err error) {
	var top webhookPayload
	if err := json.Unmarshal(body, &top); err != nil {
		return "", "", fmt.Errorf("%w: malformed webhook body", pkgerrors.ErrInvalidInput)
	}

	var nested webhookPayload
	if len(top.Data) > 0 && top.Data[0] == '{' {
		if err := json.Unmarshal(top.Data, &nested); err != nil {
			return "", "", fmt.Errorf("%w: malformed webhook data", pkgerrors.ErrInvalidInput)
		}
	}

	txRef = firstNonEmpty(nested.TxRef, nested.TxRefAlt, top.TxRef, top.TxRefAlt)
	status = firstNonEmpty(nested.Status, top.Status)
	if txRef == "" {
		return "", "", fmt.Errorf("%w: webhook carries no transaction reference", pkgerrors.ErrInvalidInput)
	}
	return txRef, status, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func traceAttrs(txRef string, trigger Trigger) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("tx_ref", txRef),
		attribute.String("trigger", string(trigger)),
	)}
}
