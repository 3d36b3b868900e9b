package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/saukimart/internal/models"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const tracerTransactions = "transaction-repository"

const transactionColumns = `id, tx_ref, type, status, amount, phone, plan_id, product_id, customer_name, delivery_state, payment_data, delivery_data, created_at`

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx           models.Transaction
		planID       sql.NullInt64
		productID    sql.NullInt64
		paymentData  []byte
		deliveryData []byte
	)
	err := row.Scan(&tx.ID, &tx.TxRef, &tx.Type, &tx.Status, &tx.Amount, &tx.Phone, &planID, &productID,
		&tx.CustomerName, &tx.DeliveryState, &paymentData, &deliveryData, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		tx.PlanID = &planID.Int64
	}
	if productID.Valid {
		tx.ProductID = &productID.Int64
	}
	if len(paymentData) > 0 {
		tx.PaymentData = json.RawMessage(paymentData)
	}
	if len(deliveryData) > 0 {
		tx.DeliveryData = json.RawMessage(deliveryData)
	}
	return &tx, nil
}

// nullJSON maps an empty snapshot to SQL NULL so COALESCE keeps the stored value.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func validateTransaction(tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !tx.Type.Valid() {
		return pkgerrors.ErrInvalidTransactionType
	}
	if !tx.Status.Valid() {
		return pkgerrors.ErrInvalidTransactionStatus
	}
	if tx.TxRef == "" {
		return fmt.Errorf("%w: tx_ref is required", pkgerrors.ErrInvalidInput)
	}
	if tx.Phone == "" {
		return fmt.Errorf("%w: phone is required", pkgerrors.ErrInvalidInput)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", pkgerrors.ErrInvalidInput)
	}
	if tx.PlanID != nil && tx.ProductID != nil {
		return fmt.Errorf("%w: plan and product are mutually exclusive", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (id int64, err error) {
	ctx, finish := startOp(ctx, tracerTransactions, "CreateTransaction")
	defer func() { finish(err) }()

	if err = validateTransaction(tx); err != nil {
		slog.Error("invalid transaction", "method", "Create", "error", err)
		return 0, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO transactions (tx_ref, type, status, amount, phone, plan_id, product_id, customer_name, delivery_state, payment_data, delivery_data) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at`
	var createdAt time.Time
	err = dbTx.QueryRowContext(ctx, query,
		tx.TxRef, tx.Type, tx.Status, tx.Amount, tx.Phone, nullInt(tx.PlanID), nullInt(tx.ProductID),
		tx.CustomerName, tx.DeliveryState, nullJSON(tx.PaymentData), nullJSON(tx.DeliveryData),
	).Scan(&id, &createdAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "Create", "error", rbErr)
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			slog.Warn("duplicate tx_ref", "method", "Create", "tx_ref", tx.TxRef)
			err = pkgerrors.ErrTransactionExists
			return 0, err
		}
		slog.Error("failed to create transaction", "method", "Create", "tx_ref", tx.TxRef, "type", tx.Type, "error", err)
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	tx.ID = id
	tx.CreatedAt = createdAt
	slog.Info("transaction created", "method", "Create", "id", id, "tx_ref", tx.TxRef, "type", tx.Type, "status", tx.Status)
	return id, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, finish := startOp(ctx, tracerTransactions, "GetTransactionByID", attribute.Int64("transaction_id", id))
	defer func() { finish(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err = scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByRef(ctx context.Context, txRef string) (tx *models.Transaction, err error) {
	ctx, finish := startOp(ctx, tracerTransactions, "GetTransactionByRef", attribute.String("tx_ref", txRef))
	defer func() { finish(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tx_ref = $1`
	tx, err = scanTransaction(r.db.QueryRowContext(ctx, query, txRef))
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("transaction not found", "method", "GetByRef", "tx_ref", txRef)
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by ref", "method", "GetByRef", "tx_ref", txRef, "error", err)
		return nil, fmt.Errorf("failed to get transaction by ref: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) ListByPhone(ctx context.Context, phone string, limit int) (txs []models.Transaction, err error) {
	ctx, finish := startOp(ctx, tracerTransactions, "ListTransactionsByPhone", attribute.Int("limit", limit))
	defer func() { finish(err) }()

	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE phone = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, phone, limit)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByPhone", "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs = make([]models.Transaction, 0, limit)
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan transaction: %w", scanErr)
			return nil, err
		}
		txs = append(txs, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *PostgresTransactionRepository) UpdateStatus(ctx context.Context, id int64, from []models.StatusType, to models.StatusType, audit models.AuditFields) (updated bool, err error) {
	ctx, finish := startOp(ctx, tracerTransactions, "UpdateTransactionStatus",
		attribute.Int64("transaction_id", id), attribute.String("to", string(to)))
	defer func() { finish(err) }()

	if !to.Valid() || len(from) == 0 {
		err = pkgerrors.ErrInvalidTransactionStatus
		return false, err
	}
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	query := `UPDATE transactions SET status = $1, payment_data = COALESCE($2::jsonb, payment_data), delivery_data = COALESCE($3::jsonb, delivery_data) WHERE id = $4 AND status = ANY($5)`
	res, err := r.db.ExecContext(ctx, query, to, nullJSON(audit.PaymentData), nullJSON(audit.DeliveryData), id, pq.Array(expected))
	if err != nil {
		slog.Error("failed to update transaction status", "method", "UpdateStatus", "transaction_id", id, "to", to, "error", err)
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		slog.Info("status update skipped, row not in expected state", "method", "UpdateStatus", "transaction_id", id, "from", expected, "to", to)
		return false, nil
	}

	slog.Info("transaction status updated", "method", "UpdateStatus", "transaction_id", id, "to", to)
	return true, nil
}

func (r *PostgresTransactionRepository) DeleteAll(ctx context.Context) (n int64, err error) {
	ctx, finish := startOp(ctx, tracerTransactions, "DeleteAllTransactions")
	defer func() { finish(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions`)
	if err != nil {
		return 0, fmt.Errorf("failed to wipe transactions: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Warn("transactions wiped", "method", "DeleteAll", "count", n)
	return n, nil
}
