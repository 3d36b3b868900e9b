// Package client polls the verify endpoint until a checkout settles.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrPollExhausted = errors.New("transaction did not reach a final status in time")
	ErrUnknownRef    = errors.New("transaction reference not found")
	errNotYet        = errors.New("status not final yet")
)

type Poller struct {
	baseURL     string
	http        *http.Client
	initial     time.Duration
	maxInterval time.Duration
	maxElapsed  time.Duration
	maxAttempts uint64
	stopOn      map[string]bool
}

type Option func(*Poller)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.http = c }
}

// WithBackoff sets the first and the largest delay between polls.
func WithBackoff(initial, max time.Duration) Option {
	return func(p *Poller) {
		p.initial = initial
		p.maxInterval = max
	}
}

func WithMaxElapsed(d time.Duration) Option {
	return func(p *Poller) { p.maxElapsed = d }
}

func WithMaxAttempts(n uint64) Option {
	return func(p *Poller) { p.maxAttempts = n }
}

// StopOn replaces the set of statuses that end polling. E-commerce checkouts
// stop on "paid" since nothing is delivered automatically.
func StopOn(statuses ...string) Option {
	return func(p *Poller) {
		p.stopOn = make(map[string]bool, len(statuses))
		for _, s := range statuses {
			p.stopOn[s] = true
		}
	}
}

func NewPoller(baseURL string, opts ...Option) *Poller {
	p := &Poller{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		initial:     3 * time.Second,
		maxInterval: 30 * time.Second,
		maxElapsed:  10 * time.Minute,
		maxAttempts: 40,
		stopOn:      map[string]bool{"delivered": true, "failed": true},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitForStatus polls until the transaction reaches a stop status, ctx ends
// or the attempt and time budget runs out. It returns the last status seen.
func (p *Poller) WaitForStatus(ctx context.Context, txRef string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initial
	policy.MaxInterval = p.maxInterval
	policy.MaxElapsedTime = p.maxElapsed

	var b backoff.BackOff = policy
	if p.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.maxAttempts-1)
	}

	var last string
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		status, err := p.verify(ctx, txRef)
		if err != nil {
			if errors.Is(err, ErrUnknownRef) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = status
		if p.stopOn[status] {
			return nil
		}
		return errNotYet
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		slog.Debug("transaction not final, polling again", "tx_ref", txRef, "status", last, "attempt", attempts, "next", next, "error", err)
	})

	switch {
	case err == nil:
		return last, nil
	case ctx.Err() != nil:
		return last, ctx.Err()
	case errors.Is(err, ErrUnknownRef):
		return last, err
	default:
		return last, fmt.Errorf("%w after %d attempts: last status %q", ErrPollExhausted, attempts, last)
	}
}

func (p *Poller) verify(ctx context.Context, txRef string) (string, error) {
	body, err := json.Marshal(map[string]string{"tx_ref": txRef})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/transactions/verify", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrUnknownRef
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("verify returned http %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode verify response: %w", err)
	}
	return out.Status, nil
}
