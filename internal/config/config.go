package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	LogLevel     string
	PostgresDSN  string
	// RedisAddr needs Lua scripting; no Redis 7-only commands are used.
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	OTLPEndpoint string

	FlutterwaveBaseURL     string
	FlutterwaveSecretKey   string
	FlutterwaveWebhookHash string
	VerifyTimeout          time.Duration
	MerchantAccountName    string
	MerchantEmail          string

	AmigoBaseURL      string
	AmigoAPIKey       string
	AmigoDataEndpoint string
	EgressProxyURL    string
	DeliveryTimeout   time.Duration

	AdminPassword     string
	AdminPasswordHash string
	JWTSecret         string
	AdminSessionTTL   time.Duration
	DeliveryLockTTL   time.Duration
	DeliveryLockWait  time.Duration

	// DeliveryLockBackend is "redis" for multi-instance deployments or
	// "local" when a single process serves all traffic.
	DeliveryLockBackend string

	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For header
	// is believed when identifying admin login clients.
	TrustedProxies []string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		PostgresDSN:  getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=saukimart sslmode=disable"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKER", "localhost:9092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "transactions"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		FlutterwaveBaseURL:     strings.TrimRight(getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3"), "/"),
		FlutterwaveSecretKey:   os.Getenv("FLUTTERWAVE_SECRET_KEY"),
		FlutterwaveWebhookHash: os.Getenv("FLUTTERWAVE_WEBHOOK_SECRET"),
		VerifyTimeout:          getDuration("FLUTTERWAVE_VERIFY_TIMEOUT", 15*time.Second),
		MerchantAccountName:    getEnv("MERCHANT_ACCOUNT_NAME", "SAUKI MART"),
		MerchantEmail:          getEnv("MERCHANT_EMAIL", "customer@saukimart.com"),

		AmigoBaseURL:      strings.TrimRight(getEnv("AMIGO_BASE_URL", "https://amigo.ng/api"), "/"),
		AmigoAPIKey:       os.Getenv("AMIGO_API_KEY"),
		AmigoDataEndpoint: getEnv("AMIGO_DATA_ENDPOINT", "data"),
		EgressProxyURL:    os.Getenv("AWS_PROXY_URL"),
		DeliveryTimeout:   getDuration("AMIGO_TIMEOUT", 60*time.Second),

		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminSessionTTL:   getDuration("ADMIN_SESSION_TTL", 30*time.Minute),
		DeliveryLockTTL:   getDuration("DELIVERY_LOCK_TTL", 90*time.Second),
		DeliveryLockWait:  getDuration("DELIVERY_LOCK_WAIT", 75*time.Second),

		DeliveryLockBackend: strings.ToLower(getEnv("DELIVERY_LOCK_BACKEND", "redis")),

		TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
	}

	if cfg.EgressProxyURL == "" {
		slog.Warn("AWS_PROXY_URL is missing, delivery calls go direct and may be rejected by the provider allowlist")
	}

	slog.Info("config loaded", "http_addr", cfg.HTTPAddr, "redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers,
		"amigo_base_url", cfg.AmigoBaseURL, "proxy_configured", cfg.EgressProxyURL != "")
	return cfg
}

// Validate reports missing credentials that make the service unusable.
func (c *Config) Validate() error {
	var missing []string
	if c.FlutterwaveSecretKey == "" {
		missing = append(missing, "FLUTTERWAVE_SECRET_KEY")
	}
	if c.FlutterwaveWebhookHash == "" {
		missing = append(missing, "FLUTTERWAVE_WEBHOOK_SECRET")
	}
	if c.AmigoBaseURL == "" {
		missing = append(missing, "AMIGO_BASE_URL")
	}
	if c.AmigoAPIKey == "" {
		missing = append(missing, "AMIGO_API_KEY")
	}
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD or ADMIN_PASSWORD_HASH")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", pkgerrors.ErrConfiguration, strings.Join(missing, ", "))
	}
	if c.DeliveryLockBackend != "" && c.DeliveryLockBackend != "redis" && c.DeliveryLockBackend != "local" {
		return fmt.Errorf("%w: DELIVERY_LOCK_BACKEND must be redis or local, got %q", pkgerrors.ErrConfiguration, c.DeliveryLockBackend)
	}
	// A lock that expires mid-call lets a second trigger deliver again.
	if c.DeliveryLockTTL <= c.DeliveryTimeout {
		return fmt.Errorf("%w: DELIVERY_LOCK_TTL (%s) must exceed AMIGO_TIMEOUT (%s)", pkgerrors.ErrConfiguration, c.DeliveryLockTTL, c.DeliveryTimeout)
	}
	for _, p := range c.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			return fmt.Errorf("%w: TRUSTED_PROXIES: %v", pkgerrors.ErrConfiguration, err)
		}
	}
	return nil
}

// ParseProxy accepts a single address or a CIDR.
func ParseProxy(v string) (netip.Prefix, error) {
	if strings.Contains(v, "/") {
		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid proxy %q: %w", v, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid proxy %q: %w", v, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// TrustedProxyPrefixes returns the parsed TrustedProxies. Invalid entries are
// rejected by Validate.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	var out []netip.Prefix
	for _, p := range c.TrustedProxies {
		if prefix, err := ParseProxy(p); err == nil {
			out = append(out, prefix)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
