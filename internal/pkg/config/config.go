// Package config reads process settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	OrderStore  string
	SQLitePath  string
	DatabaseURL string
	RedisAddr   string

	PaymentProvider string
	PaymentAPIURL   string
	PaymentAPIKey   string
	PaymentRPS      float64
	PaymentTimeout  time.Duration
	// DeclineAbove applies to the mock provider only, in minor units.
	DeclineAbove int64

	TaxRulesFile      string
	NotifyWebhookURL  string
	OrderNumberPrefix string
	SagaLogPath       string
	IdempotencyTTL    time.Duration

	ReaperInterval   time.Duration
	ReaperStaleAfter time.Duration
	// ReaperEmbedded runs the stale-order reaper inside checkout-api.
	ReaperEmbedded bool

	ServiceName   string
	OTLPEndpoint  string
	DeploymentEnv string
}

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	ProviderMock = "mock"
	ProviderHTTP = "http"
)

// Load reads the environment. Malformed numbers and durations are reported
// together rather than silently replaced by defaults.
func Load(serviceName string) (*Config, error) {
	p := &parser{}
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OrderStore:  strings.ToLower(getEnv("ORDER_STORE", StoreMemory)),
		SQLitePath:  getEnv("SQLITE_PATH", "checkout.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		PaymentProvider: strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderMock)),
		PaymentAPIURL:   getEnv("PAYMENT_API_URL", ""),
		PaymentAPIKey:   getEnv("PAYMENT_API_KEY", ""),
		PaymentRPS:      p.float("PAYMENT_RPS", 10),
		PaymentTimeout:  p.duration("PAYMENT_TIMEOUT", 10*time.Second),
		DeclineAbove:    p.int64("MOCK_DECLINE_ABOVE", 50000),

		TaxRulesFile:      getEnv("TAX_RULES_FILE", ""),
		NotifyWebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
		OrderNumberPrefix: getEnv("ORDER_NUMBER_PREFIX", "MV"),
		SagaLogPath:       getEnv("SAGA_LOG_PATH", ""),
		IdempotencyTTL:    p.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		ReaperInterval:   p.duration("REAPER_INTERVAL", 5*time.Minute),
		ReaperStaleAfter: p.duration("REAPER_STALE_AFTER", time.Hour),
		ReaperEmbedded:   p.bool("REAPER_EMBEDDED", false),

		ServiceName:   getEnv("OTEL_SERVICE_NAME", serviceName),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		DeploymentEnv: getEnv("DEPLOYMENT_ENV", "local"),
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.OrderStore {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when ORDER_STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("config: unknown ORDER_STORE %q", c.OrderStore)
	}

	switch c.PaymentProvider {
	case ProviderMock:
	case ProviderHTTP:
		if c.PaymentAPIURL == "" {
			return fmt.Errorf("config: PAYMENT_API_URL is required when PAYMENT_PROVIDER=%s", ProviderHTTP)
		}
	default:
		return fmt.Errorf("config: unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

type parser struct {
	bad []string
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.bad = append(p.bad, key)
		return fallback
	}
	return d
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.bad = append(p.bad, key)
		return fallback
	}
	return f
}

func (p *parser) int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		p.bad = append(p.bad, key)
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.bad = append(p.bad, key)
		return fallback
	}
	return b
}

func (p *parser) err() error {
	if len(p.bad) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid value for %s", strings.Join(p.bad, ", "))
}
