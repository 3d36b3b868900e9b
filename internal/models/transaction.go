package models

import (
	"encoding/json"
	"time"
)

type Transaction struct {
	ID            int64           `json:"id"`
	TxRef         string          `json:"tx_ref"`
	Type          TransactionType `json:"type"`
	Status        StatusType      `json:"status"`
	Amount        int64           `json:"amount"`
	Phone         string          `json:"phone"`
	PlanID        *int64          `json:"plan_id,omitempty"`
	ProductID     *int64          `json:"product_id,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	DeliveryState string          `json:"delivery_state,omitempty"`
	PaymentData   json.RawMessage `json:"payment_data,omitempty"`
	DeliveryData  json.RawMessage `json:"delivery_data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TransactionType string

const (
	TypeEcommerce   TransactionType = "ecommerce"
	TypeData        TransactionType = "data"
	TypeConsoleData TransactionType = "consoleData"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeEcommerce, TypeData, TypeConsoleData:
		return true
	}
	return false
}

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusPaid      StatusType = "paid"
	StatusDelivered StatusType = "delivered"
	StatusFailed    StatusType = "failed"
)

func (s StatusType) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no automated transition leaves s.
func (s StatusType) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
// Delivery failure never moves a transaction, so paid -> failed is only
// reachable through an explicit payment rejection.
func (s StatusType) CanAdvanceTo(next StatusType) bool {
	switch s {
	case StatusPending:
		return next == StatusPaid || next == StatusFailed
	case StatusPaid:
		return next == StatusDelivered || next == StatusFailed
	}
	return false
}

// AuditFields carries the optional snapshots written together with a status
// change. Nil fields leave the stored column untouched.
type AuditFields struct {
	PaymentData  json.RawMessage
	DeliveryData json.RawMessage
}

// PaymentInstructions is what the payer needs to complete a bank transfer.
type PaymentInstructions struct {
	TxRef         string `json:"tx_ref"`
	BankName      string `json:"bank"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Amount        int64  `json:"amount"`
}
