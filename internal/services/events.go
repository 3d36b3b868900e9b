package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/honeynil/saukimart/internal/models"
)

// EventPublisher is satisfied by the Kafka producer.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type Trigger string

const (
	TriggerCheckout Trigger = "checkout"
	TriggerWebhook  Trigger = "webhook"
	TriggerVerify   Trigger = "verify"
	TriggerRetry    Trigger = "retry"
	TriggerManual   Trigger = "manual"
	TriggerConsole  Trigger = "console"
)

type statusEvent struct {
	EventType  string                 `json:"event_type"`
	TxRef      string                 `json:"tx_ref"`
	Type       models.TransactionType `json:"type"`
	From       models.StatusType      `json:"from,omitempty"`
	To         models.StatusType      `json:"to"`
	Trigger    Trigger                `json:"trigger"`
	Amount     int64                  `json:"amount"`
	OccurredAt string                 `json:"occurred_at"`
}

// publishStatus sends the event in the background with a few retries. The
// stored row is the source of truth, so a lost event is only logged.
func publishStatus(events EventPublisher, tx *models.Transaction, from, to models.StatusType, trigger Trigger) {
	if events == nil {
		return
	}
	eventType := "transaction_status_changed"
	if from == "" {
		eventType = "transaction_created"
	}
	payload, err := json.Marshal(statusEvent{
		EventType:  eventType,
		TxRef:      tx.TxRef,
		Type:       tx.Type,
		From:       from,
		To:         to,
		Trigger:    trigger,
		Amount:     tx.Amount,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("failed to marshal kafka event", "tx_ref", tx.TxRef, "error", err)
		return
	}

	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := events.Publish(ctx, tx.TxRef, payload)
			cancel()
			if err == nil {
				slog.Debug("transaction event sent", "tx_ref", tx.TxRef, "event_type", eventType, "to", to)
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send transaction event after retries", "tx_ref", tx.TxRef, "event_type", eventType, "to", to)
	}()
}
