// Package payment talks to Flutterwave: bank-transfer charge initiation,
// settlement verification by reference and webhook authentication.
package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/saukimart/internal/infrastructure/observability"
	"github.com/honeynil/saukimart/internal/models"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"github.com/shopspring/decimal"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookHash   string
	AccountName   string
	CustomerEmail string
	Currency      string
	Timeout       time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type ChargeRequest struct {
	RefPrefix string
	Amount    int64
	Phone     string
	FullName  string
	Meta      map[string]any
}

type ChargeResult struct {
	models.PaymentInstructions
	Raw json.RawMessage
}

// Verification is the settlement verdict for one reference. Settled and
// Rejected are never both true; neither set means "ask again later".
type Verification struct {
	Settled         bool
	Rejected        bool
	ProcessorStatus string
	Amount          decimal.Decimal
	Reason          string
	Raw             json.RawMessage
}

type chargeBody struct {
	TxRef       string         `json:"tx_ref"`
	Amount      int64          `json:"amount"`
	Email       string         `json:"email"`
	PhoneNumber string         `json:"phone_number"`
	Currency    string         `json:"currency"`
	FullName    string         `json:"fullname,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

type chargeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Meta    struct {
		Authorization struct {
			TransferBank    string `json:"transfer_bank"`
			TransferAccount string `json:"transfer_account"`
		} `json:"authorization"`
	} `json:"meta"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		TxRef    string          `json:"tx_ref"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

// NewTxRef returns a fresh correlation reference such as SAUKI-DATA-<uuid>.
func NewTxRef(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func (c *Client) InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if c.cfg.BaseURL == "" || c.cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: %w: flutterwave base url or secret key missing", pkgerrors.ErrPaymentInit, pkgerrors.ErrConfiguration)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %w: amount must be positive", pkgerrors.ErrPaymentInit, pkgerrors.ErrInvalidInput)
	}

	txRef := NewTxRef(req.RefPrefix)
	body, err := json.Marshal(chargeBody{
		TxRef:       txRef,
		Amount:      req.Amount,
		Email:       c.cfg.CustomerEmail,
		PhoneNumber: req.Phone,
		Currency:    c.cfg.Currency,
		FullName:    req.FullName,
		Meta:        req.Meta,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode charge: %v", pkgerrors.ErrPaymentInit, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/charges?type=bank_transfer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrPaymentInit, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	raw, status, err := c.do(httpReq, "initiate_charge")
	if err != nil {
		slog.Error("flutterwave charge request failed", "tx_ref", txRef, "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrPaymentInit, err)
	}

	var resp chargeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Error("failed to decode flutterwave charge response", "tx_ref", txRef, "http_status", status, "error", err)
		return nil, fmt.Errorf("%w: undecodable response (http %d)", pkgerrors.ErrPaymentInit, status)
	}
	if status/100 != 2 || resp.Status != "success" {
		slog.Error("flutterwave rejected charge", "tx_ref", txRef, "http_status", status, "status", resp.Status, "message", resp.Message)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrPaymentInit, resp.Message)
	}

	slog.Info("bank transfer charge initiated", "tx_ref", txRef, "amount", req.Amount)
	return &ChargeResult{
		PaymentInstructions: models.PaymentInstructions{
			TxRef:         txRef,
			BankName:      resp.Meta.Authorization.TransferBank,
			AccountNumber: resp.Meta.Authorization.TransferAccount,
			AccountName:   c.cfg.AccountName,
			Amount:        req.Amount,
		},
		Raw: raw,
	}, nil
}

// VerifyCharge never returns an error: every failure to reach a verdict is
// reported as not settled so the caller can retry.
func (c *Client) VerifyCharge(ctx context.Context, txRef string, expected int64) Verification {
	logger := slog.With("tx_ref", txRef)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/transactions/verify_by_reference?tx_ref="+url.QueryEscape(txRef), nil)
	if err != nil {
		return transient(err.Error(), nil)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	raw, status, err := c.do(httpReq, "verify_charge")
	if err != nil {
		logger.Warn("flutterwave verification unreachable", "error", err)
		return transient(err.Error(), nil)
	}

	var resp verifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		logger.Warn("failed to decode flutterwave verification", "http_status", status, "error", err)
		return transient("undecodable verification response", raw)
	}
	if status/100 != 2 || resp.Status != "success" || resp.Data == nil {
		logger.Info("verification inconclusive", "http_status", status, "status", resp.Status, "message", resp.Message)
		return transient(fmt.Sprintf("processor answered %q: %s", resp.Status, resp.Message), raw)
	}

	v := Verification{ProcessorStatus: resp.Data.Status, Amount: resp.Data.Amount, Raw: raw}
	switch {
	case resp.Data.TxRef != "" && resp.Data.TxRef != txRef:
		v.Reason = "reference mismatch"
	case resp.Data.Status == "failed":
		v.Rejected = true
		v.Reason = "processor reported failed"
	case resp.Data.Status != "successful":
		v.Reason = "processor status " + resp.Data.Status
	case resp.Data.Currency != "" && resp.Data.Currency != c.cfg.Currency:
		v.Reason = "unexpected currency " + resp.Data.Currency
	case resp.Data.Amount.LessThan(decimal.NewFromInt(expected)):
		v.Reason = fmt.Sprintf("underpaid: settled %s, expected %d", resp.Data.Amount.String(), expected)
	default:
		v.Settled = true
	}

	logger.Info("charge verified", "settled", v.Settled, "rejected", v.Rejected, "processor_status", v.ProcessorStatus,
		"amount", v.Amount.String(), "expected", expected, "reason", v.Reason)
	return v
}

// VerifySignature checks the verif-hash header Flutterwave sends with every
// webhook. An unconfigured hash rejects everything.
func (c *Client) VerifySignature(signature string) bool {
	if c.cfg.WebhookHash == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(c.cfg.WebhookHash)) == 1
}

func (c *Client) do(req *http.Request, op string) ([]byte, int, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.GatewayDuration.WithLabelValues("flutterwave", op, "error").Observe(time.Since(start).Seconds())
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	observability.GatewayDuration.WithLabelValues("flutterwave", op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func transient(reason string, raw json.RawMessage) Verification {
	return Verification{Reason: fmt.Sprintf("%v: %s", pkgerrors.ErrVerificationTransient, reason), Raw: raw}
}
