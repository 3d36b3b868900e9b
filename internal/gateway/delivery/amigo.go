// Package delivery provisions data bundles on the Amigo aggregator API. All
// calls leave through a forward proxy bound to the static IP the provider
// allowlists.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/honeynil/saukimart/internal/infrastructure/observability"
	"github.com/honeynil/saukimart/internal/models"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
)

const maxResponseBytes = 1 << 20

var networkIDs = map[models.Network]int{
	models.NetworkMTN:     1,
	models.NetworkGlo:     2,
	models.NetworkAirtel:  3,
	models.Network9Mobile: 4,
}

// NetworkID maps a network to the id the provider expects.
func NetworkID(n models.Network) (int, bool) {
	id, ok := networkIDs[n]
	return id, ok
}

// DataPayload is the provider's data purchase request.
type DataPayload struct {
	Network      int    `json:"network"`
	MobileNumber string `json:"mobile_number"`
	Plan         int    `json:"plan"`
	PortedNumber bool   `json:"Ported_number"`
}

type Config struct {
	BaseURL  string
	APIKey   string
	ProxyURL string
	Timeout  time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Result is what came back from the provider. Success only means the
// provider answered 2xx; whether data was delivered is decided by Classify.
type Result struct {
	Success    bool
	Body       json.RawMessage
	HTTPStatus int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("%w: invalid egress proxy url %q", pkgerrors.ErrConfiguration, cfg.ProxyURL)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

// NormalizeEndpoint returns endpoint with exactly one leading and one
// trailing slash; the provider rejects POSTs without the trailing one.
func NormalizeEndpoint(endpoint string) string {
	trimmed := strings.Trim(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed + "/"
}

// Deliver posts payload to endpoint. Remote failures never surface as
// errors; they come back as an unsuccessful Result carrying the error body.
// The only error is a missing base URL, detected before any network call.
func (c *Client) Deliver(ctx context.Context, endpoint string, payload any, idempotencyKey string) (Result, error) {
	if c.baseURL == "" {
		body, _ := json.Marshal(map[string]string{"error": "Configuration Error: AMIGO_BASE_URL missing"})
		return Result{Body: body, HTTPStatus: http.StatusInternalServerError},
			fmt.Errorf("%w: delivery base url missing", pkgerrors.ErrConfiguration)
	}

	path := NormalizeEndpoint(endpoint)
	logger := slog.With("endpoint", path, "idempotency_key", idempotencyKey)

	body, err := json.Marshal(payload)
	if err != nil {
		return errorResult(0, "failed to encode payload: "+err.Error()), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errorResult(0, err.Error()), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	logger.Info("sending delivery request")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.GatewayDuration.WithLabelValues("amigo", "deliver", "error").Observe(time.Since(start).Seconds())
		logger.Error("delivery request failed", "error", err)
		return errorResult(0, err.Error()), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	observability.GatewayDuration.WithLabelValues("amigo", "deliver", strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("failed to read delivery response", "http_status", resp.StatusCode, "error", err)
		return errorResult(resp.StatusCode, "failed to read response: "+err.Error()), nil
	}
	if !json.Valid(raw) {
		raw, _ = json.Marshal(map[string]string{"error": strings.TrimSpace(string(raw))})
	}

	if resp.StatusCode/100 != 2 {
		logger.Error("delivery provider returned error", "http_status", resp.StatusCode, "body", string(raw))
		return Result{Body: raw, HTTPStatus: resp.StatusCode}, nil
	}

	logger.Info("delivery provider answered", "http_status", resp.StatusCode)
	return Result{Success: true, Body: raw, HTTPStatus: resp.StatusCode}, nil
}

func errorResult(status int, msg string) Result {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return Result{Body: body, HTTPStatus: status}
}
