package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/saukimart/internal/gateway/delivery"
	"github.com/honeynil/saukimart/internal/infrastructure/redis"
	"github.com/honeynil/saukimart/internal/models"
	"github.com/honeynil/saukimart/internal/repository"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminScope          = "admin"
	defaultSessionTTL   = 30 * time.Minute
	defaultMaxAttempts  = 5
	defaultAttemptsSpan = 15 * time.Minute
)

type AdminConfig struct {
	// PasswordHash is a bcrypt hash. When empty, Password is hashed at startup.
	PasswordHash  string
	Password      string
	JWTSecret     string
	SessionTTL    time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
}

// AdminService guards operator actions behind a single admin credential and
// short-lived, revocable sessions.
type AdminService struct {
	hash         []byte
	secret       []byte
	cfg          AdminConfig
	redisClient  redis.RedisClient
	transactions repository.TransactionRepository
	deliveries   DeliveryGateway
	events       EventPublisher
	now          func() time.Time
}

func NewAdminService(
	cfg AdminConfig,
	redisClient redis.RedisClient,
	transactions repository.TransactionRepository,
	deliveries DeliveryGateway,
	events EventPublisher,
) (*AdminService, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is required", pkgerrors.ErrConfiguration)
	}

	hash := []byte(cfg.PasswordHash)
	if len(hash) == 0 {
		if cfg.Password == "" {
			return nil, fmt.Errorf("%w: ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required", pkgerrors.ErrConfiguration)
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
	}
	cfg.Password = ""

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = defaultAttemptsSpan
	}

	return &AdminService{
		hash:         hash,
		secret:       []byte(cfg.JWTSecret),
		cfg:          cfg,
		redisClient:  redisClient,
		transactions: transactions,
		deliveries:   deliveries,
		events:       events,
		now:          time.Now,
	}, nil
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func sessionKey(jti string) string {
	return "admin:session:" + jti
}

// Login checks the admin password and opens a session. clientKey scopes the
// attempt limiter, typically the caller's IP.
func (s *AdminService) Login(ctx context.Context, password, clientKey string) (*Session, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	attemptsKey := "admin:login:attempts:" + clientKey
	attempts, err := s.redisClient.Incr(ctx, attemptsKey, s.cfg.AttemptWindow)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to count login attempt", "client", clientKey, "error", err)
		return nil, fmt.Errorf("failed to count login attempt: %w", err)
	}
	if attempts > int64(s.cfg.MaxAttempts) {
		span.SetStatus(codes.Error, "too many attempts")
		slog.Warn("admin login rate limited", "client", clientKey, "attempts", attempts)
		return nil, pkgerrors.ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(password)); err != nil {
		span.SetStatus(codes.Error, "invalid credentials")
		slog.Warn("invalid admin password", "client", clientKey, "attempts", attempts)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if err := s.redisClient.Del(ctx, attemptsKey); err != nil {
		slog.Warn("failed to reset login attempts", "client", clientKey, "error", err)
	}

	now := s.now()
	jti := uuid.NewString()
	expiresAt := now.Add(s.cfg.SessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": adminScope,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to generate JWT", "error", err)
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.redisClient.Set(ctx, sessionKey(jti), strconv.FormatInt(expiresAt.Unix(), 10), s.cfg.SessionTTL); err != nil {
		span.RecordError(err)
		slog.Error("failed to store admin session", "jti", jti, "error", err)
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("admin logged in", "client", clientKey, "jti", jti)
	return &Session{Token: tokenString, ExpiresAt: expiresAt}, nil
}

// Authorize validates a bearer token and returns its session id. A token is
// only valid while its session key exists, which makes Logout effective.
func (s *AdminService) Authorize(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrSessionExpired, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", pkgerrors.ErrSessionExpired
	}
	if scope, _ := claims["scope"].(string); scope != adminScope {
		return "", fmt.Errorf("%w: token lacks admin scope", pkgerrors.ErrUnauthorized)
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", pkgerrors.ErrSessionExpired
	}

	if _, err := s.redisClient.Get(ctx, sessionKey(jti)); err != nil {
		if stderrors.Is(err, redis.ErrKeyNotFound) {
			return "", pkgerrors.ErrSessionExpired
		}
		slog.Error("failed to look up admin session", "jti", jti, "error", err)
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return jti, nil
}

func (s *AdminService) Logout(ctx context.Context, jti string) error {
	if err := s.redisClient.Del(ctx, sessionKey(jti)); err != nil {
		slog.Error("failed to revoke admin session", "jti", jti, "error", err)
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	slog.Info("admin logged out", "jti", jti)
	return nil
}

type ConsoleResult struct {
	Reference  string          `json:"reference"`
	Success    bool            `json:"success"`
	HTTPStatus int             `json:"http_status"`
	Response   json.RawMessage `json:"response"`
	Recorded   bool            `json:"recorded"`
}

type consoleDataRequest struct {
	MobileNumber string `json:"mobile_number"`
	Phone        string `json:"phone"`
	Plan         *int   `json:"plan"`
}

// ConsoleSend forwards an operator request to the delivery provider as is.
// With persist set, a payload that looks like a data request is also
// recorded as a consoleData transaction; failures there are only logged.
func (s *AdminService) ConsoleSend(ctx context.Context, endpoint string, payload json.RawMessage, persist bool) (*ConsoleResult, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "ConsoleSend")
	defer span.End()

	if endpoint == "" || !json.Valid(payload) {
		span.SetStatus(codes.Error, "invalid console request")
		return nil, fmt.Errorf("%w: endpoint and a JSON payload are required", pkgerrors.ErrInvalidInput)
	}

	reference := fmt.Sprintf("CONSOLE-%d", s.now().UnixMilli())
	res, err := s.deliveries.Deliver(ctx, endpoint, payload, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "console delivery failed")
		return nil, err
	}

	result := &ConsoleResult{
		Reference:  reference,
		Success:    res.Success,
		HTTPStatus: res.HTTPStatus,
		Response:   res.Body,
	}
	slog.Info("console request sent", "reference", reference, "endpoint", endpoint, "http_status", res.HTTPStatus)

	if persist {
		result.Recorded = s.recordConsole(ctx, reference, payload, res)
	}
	return result, nil
}

func (s *AdminService) recordConsole(ctx context.Context, reference string, payload json.RawMessage, res delivery.Result) bool {
	var req consoleDataRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return false
	}
	phone := firstNonEmpty(req.MobileNumber, req.Phone)
	if phone == "" || req.Plan == nil {
		slog.Debug("console payload is not a data request, not recorded", "reference", reference)
		return false
	}

	status := models.StatusFailed
	if res.Success && delivery.Classify(res.Body) == delivery.OutcomeDelivered {
		status = models.StatusDelivered
	}
	tx := &models.Transaction{
		TxRef:        reference,
		Type:         models.TypeConsoleData,
		Status:       status,
		Phone:        phone,
		PaymentData:  json.RawMessage(`{"method":"console"}`),
		DeliveryData: res.Body,
	}
	id, err := s.transactions.Create(ctx, tx)
	if err != nil {
		slog.Warn("failed to record console transaction", "reference", reference, "error", err)
		return false
	}
	tx.ID = id
	publishStatus(s.events, tx, "", status, TriggerConsole)
	return true
}

// WipeTransactions deletes every stored transaction.
func (s *AdminService) WipeTransactions(ctx context.Context, confirmed bool) (int64, error) {
	if !confirmed {
		return 0, pkgerrors.ErrWipeNotConfirmed
	}
	n, err := s.transactions.DeleteAll(ctx)
	if err != nil {
		slog.Error("failed to wipe transactions", "error", err)
		return 0, err
	}
	slog.Warn("all transactions wiped", "deleted", n)
	return n, nil
}
