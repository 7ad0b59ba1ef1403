package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/config"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func baseConfig() *config.Config {
	return &config.Config{
		OrderStore:        config.StoreMemory,
		PaymentProvider:   config.ProviderMock,
		DeclineAbove:      50000,
		OrderNumberPrefix: "MV",
	}
}

func germanCheckout() coordinator.CheckoutRequest {
	return coordinator.CheckoutRequest{
		CartItems: []coordinator.CartItem{
			{ProductID: "vape-1", ProductName: "Starter kit", Quantity: 2, Price: decimal.RequireFromString("20.00")},
		},
		CustomerEmail: "ada@example.com",
		ShippingAddress: pricing.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Address: "Unter den Linden 1",
			City: "Berlin", Region: "BE", PostalCode: "10117", CountryCode: "DE",
		},
	}
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, baseConfig(), quietLogger)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	require.NotNil(t, a.MemoryLimits)
	res, err := a.Coordinator.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)

	order, err := a.Orders.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "60.59", order.TotalAmount.StringFixed(2))
}

func TestNew_SQLiteWithTaxRules(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "tax.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`rules:
  - country: DE
    rate: "0.07"
    effective_from: "2020-01-01"
`), 0o600))

	cfg := baseConfig()
	cfg.OrderStore = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(dir, "orders.db")
	cfg.SagaLogPath = filepath.Join(dir, "saga.db")
	cfg.TaxRulesFile = rules

	ctx := context.Background()
	a, err := New(ctx, cfg, quietLogger)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	res, err := a.Coordinator.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)

	order, err := a.Orders.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	// 40.00 + 12.99 shipping + 7% of 40.00
	assert.Equal(t, "55.79", order.TotalAmount.StringFixed(2))
}

func TestNew_BadTaxRules(t *testing.T) {
	cfg := baseConfig()
	cfg.TaxRulesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, quietLogger)
	assert.Error(t, err)
}
