package errors

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors below wrap one of these so callers can
// branch on the class with errors.Is.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrNotFound              = errors.New("not found")
	ErrPaymentInit           = errors.New("payment initiation failed")
	ErrVerificationTransient = errors.New("payment verification inconclusive")
	ErrDeliveryTransient     = errors.New("delivery not confirmed")
	ErrUnauthorized          = errors.New("unauthorized")
)

var (
	ErrTransactionNotFound      = fmt.Errorf("transaction %w", ErrNotFound)
	ErrPlanNotFound             = fmt.Errorf("data plan %w", ErrNotFound)
	ErrProductNotFound          = fmt.Errorf("product %w", ErrNotFound)
	ErrUnknownNetwork           = fmt.Errorf("network mapping %w", ErrNotFound)
	ErrAnnouncementNotFound     = fmt.Errorf("announcement %w", ErrNotFound)
	ErrNilTransaction           = errors.New("transaction is nil")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrTransactionExists        = errors.New("transaction already exists")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvalidSignature         = fmt.Errorf("webhook signature mismatch: %w", ErrUnauthorized)
	ErrInvalidCredentials       = fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	ErrSessionExpired           = fmt.Errorf("session expired or revoked: %w", ErrUnauthorized)
	ErrTooManyAttempts          = errors.New("too many login attempts")
	ErrLockNotAcquired          = errors.New("lock not acquired")
	ErrWipeNotConfirmed         = errors.New("wipe requires explicit confirmation")
)
