package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("checkout-api")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.OrderStore)
	assert.Equal(t, ProviderMock, cfg.PaymentProvider)
	assert.Equal(t, "MV", cfg.OrderNumberPrefix)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "checkout-api", cfg.ServiceName)
	assert.Equal(t, "local", cfg.DeploymentEnv)
	assert.False(t, cfg.ReaperEmbedded)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ORDER_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/checkout")
	t.Setenv("PAYMENT_PROVIDER", "http")
	t.Setenv("PAYMENT_API_URL", "https://pay.example.com")
	t.Setenv("PAYMENT_RPS", "2.5")
	t.Setenv("REAPER_STALE_AFTER", "45m")
	t.Setenv("OTEL_SERVICE_NAME", "checkout-eu")
	t.Setenv("DEPLOYMENT_ENV", "staging")
	t.Setenv("REAPER_EMBEDDED", "true")

	cfg, err := Load("checkout-api")
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.OrderStore)
	assert.Equal(t, 2.5, cfg.PaymentRPS)
	assert.Equal(t, 45*time.Minute, cfg.ReaperStaleAfter)
	assert.Equal(t, "checkout-eu", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.DeploymentEnv)
	assert.True(t, cfg.ReaperEmbedded)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad duration", map[string]string{"IDEMPOTENCY_TTL": "forever"}, "IDEMPOTENCY_TTL"},
		{"bad flag", map[string]string{"REAPER_EMBEDDED": "sometimes"}, "REAPER_EMBEDDED"},
		{"negative rps", map[string]string{"PAYMENT_RPS": "-1"}, "PAYMENT_RPS"},
		{"unknown store", map[string]string{"ORDER_STORE": "mongo"}, "ORDER_STORE"},
		{"postgres without url", map[string]string{"ORDER_STORE": "postgres"}, "DATABASE_URL"},
		{"http provider without url", map[string]string{"PAYMENT_PROVIDER": "http"}, "PAYMENT_API_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("checkout-api")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
