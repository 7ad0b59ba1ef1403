package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/adapters/memory"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/app"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

type testServer struct {
	router   http.Handler
	provider *provider.Mock
	limiter  *ratelimit.Limiter
}

func newTestServer(t *testing.T, withAPILimit bool) *testServer {
	t.Helper()
	orders := app.NewManager(memory.NewStore())
	mock := provider.NewMock(50000, nil)
	coord := coordinator.New(orders, mock, pricing.NewEngine(pricing.DefaultRules()))
	limiter := ratelimit.New(ratelimit.NewMemoryStore())

	var apiLimiter middlewares.Checker
	if withAPILimit {
		apiLimiter = limiter
	}
	router := NewRouter(NewHandler(coord, orders, limiter), apiLimiter)
	return &testServer{router: router, provider: mock, limiter: limiter}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var germanAddress = map[string]string{
	"firstName": "Ada", "lastName": "Lovelace", "address": "Unter den Linden 1",
	"city": "Berlin", "region": "BE", "postalCode": "10117", "countryCode": "DE",
}

func checkoutBody() map[string]any {
	return map[string]any{
		"amount": 60.59,
		"cartItems": []map[string]any{
			{"product_id": "vape-1", "product_name": "Starter kit", "quantity": 2, "price": "20.00"},
		},
		"customerEmail":   "ada@example.com",
		"shippingAddress": germanAddress,
	}
}

func TestQuote(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/api/checkout/quote", map[string]any{
		"cartItems":       checkoutBody()["cartItems"],
		"shippingAddress": germanAddress,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	q := decode[QuoteResponse](t, rec)
	assert.Equal(t, "40.00", q.Subtotal)
	assert.Equal(t, "12.99", q.Shipping)
	assert.Equal(t, "7.60", q.Tax)
	assert.Equal(t, "60.59", q.Total)
	assert.Equal(t, "EUR", q.Currency)
	assert.Equal(t, string(pricing.ClassEUVAT), q.CountryClass)
}

func TestQuote_ValidationErrorHasFields(t *testing.T) {
	s := newTestServer(t, false)
	addr := map[string]string{"countryCode": "DE", "postalCode": "ABC"}
	rec := s.do(t, http.MethodPost, "/api/checkout/quote", map[string]any{
		"cartItems":       checkoutBody()["cartItems"],
		"shippingAddress": addr,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", body.Error)
	assert.NotEmpty(t, body.Fields)
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/api/checkout/payment-intents", checkoutBody(), "Idempotency-Key", "session-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	intent := decode[coordinator.IntentResult](t, rec)
	assert.NotEmpty(t, intent.ClientSecret)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	// same key, same answer
	rec = s.do(t, http.MethodPost, "/api/checkout/payment-intents", checkoutBody(), "Idempotency-Key", "session-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, intent, decode[coordinator.IntentResult](t, rec))

	rec = s.do(t, http.MethodGet, "/api/orders/by-payment/"+intent.PaymentIntentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[OrderResponse](t, rec)
	assert.Equal(t, intent.OrderID, order.ID)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "60.59", order.TotalAmount)

	rec = s.do(t, http.MethodPost, "/api/checkout/payment-intents/"+intent.PaymentIntentID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[ConfirmResponse](t, rec)
	assert.Equal(t, "completed", confirmed.Order.Status)
	assert.Nil(t, confirmed.Retry)

	rec = s.do(t, http.MethodGet, "/api/orders/"+intent.OrderID+"/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]OrderItemResponse](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "40.00", items[0].Subtotal)

	rec = s.do(t, http.MethodGet, "/api/orders/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, "60.59", stats.CompletedRevenue)
}

func TestConfirm_DeclineReturnsRetryPath(t *testing.T) {
	s := newTestServer(t, false)
	body := checkoutBody()
	delete(body, "amount")
	body["cartItems"] = []map[string]any{
		{"product_id": "vape-1", "product_name": "Starter kit", "quantity": 1, "price": "600.00"},
	}

	rec := s.do(t, http.MethodPost, "/api/checkout/payment-intents", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	intent := decode[coordinator.IntentResult](t, rec)

	rec = s.do(t, http.MethodPost, "/api/checkout/payment-intents/"+intent.PaymentIntentID+"/confirm", nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decode[ConfirmResponse](t, rec)
	assert.Equal(t, "failed", resp.Order.Status)
	require.NotNil(t, resp.Retry)
	assert.Equal(t, "ada@example.com", resp.Retry.CustomerEmail)
}

func TestCreatePaymentIntent_ProviderDown(t *testing.T) {
	s := newTestServer(t, false)
	s.provider.FailCreate(assert.AnError)

	rec := s.do(t, http.MethodPost, "/api/checkout/payment-intents", checkoutBody())
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ListOrdersResponse](t, rec).Count)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/api/checkout/payment-intents", checkoutBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	intent := decode[coordinator.IntentResult](t, rec)

	event := map[string]any{
		"type": "payment_intent.payment_failed",
		"data": map[string]any{"object": map[string]string{"id": intent.PaymentIntentID}},
	}
	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodPost, "/api/webhooks/payment", event)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/orders/"+intent.OrderID, nil)
	assert.Equal(t, "failed", decode[OrderResponse](t, rec).Status)
}

func TestUpdateOrderStatus(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/api/checkout/payment-intents", checkoutBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	intent := decode[coordinator.IntentResult](t, rec)
	path := "/api/orders/" + intent.OrderID + "/status"

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "canceled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canceled", decode[OrderResponse](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/orders/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders_BadQuery(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodGet, "/api/orders?status=pending&older_than=soon&limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode[ErrorResponse](t, rec).Fields, 2)
}

func TestRateLimitEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	req := map[string]string{"action": "login", "identifier": "alice@example.com"}

	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/api/auth/rate-limit/check", req)
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
	}
	rec := s.do(t, http.MethodPost, "/api/auth/rate-limit/check", req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	denied := decode[ErrorResponse](t, rec)
	require.NotNil(t, denied.ResetTime)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *denied.ResetTime, time.Minute)

	// unknown identifiers get the same response shape
	other := s.do(t, http.MethodPost, "/api/auth/rate-limit/check", map[string]string{"action": "login", "identifier": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, other.Code)

	rec = s.do(t, http.MethodGet, "/api/auth/rate-limit/status?action=login&identifier=alice@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[RateLimitStatusResponse](t, rec).Blocked)

	rec = s.do(t, http.MethodPost, "/api/auth/rate-limit/success", req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/auth/rate-limit/check", req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/rate-limit/check", map[string]string{"action": "teleport", "identifier": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRateLimitByIP(t *testing.T) {
	s := newTestServer(t, true)
	policy, ok := s.limiter.Policy(ratelimit.ActionAPICall)
	require.True(t, ok)

	for i := 0; i < policy.Max; i++ {
		rec := s.do(t, http.MethodGet, "/api/orders/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/api/orders/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// health is outside /api
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	s.do(t, http.MethodGet, "/health", nil)
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListUserOrders(t *testing.T) {
	s := newTestServer(t, false)
	body := checkoutBody()
	body["userId"] = "user-1"
	rec := s.do(t, http.MethodPost, "/api/checkout/payment-intents", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/users/user-1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListOrdersResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "user-1", resp.Orders[0].UserID)

	rec = s.do(t, http.MethodGet, "/api/users/someone-else/orders", nil)
	assert.Equal(t, 0, decode[ListOrdersResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/orders?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
