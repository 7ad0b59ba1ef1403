package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/idempotency"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
	"github.com/jcmexdev/storefront-checkout/internal/notification"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/adapters/memory"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/app"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

var testNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []notification.Payload
}

func (r *recordingNotifier) Dispatch(_ context.Context, p notification.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingNotifier) events() []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Event, len(r.payloads))
	for i, p := range r.payloads {
		out[i] = p.Event
	}
	return out
}

type fakeAccounts struct {
	calls int
	err   error
}

func (f *fakeAccounts) CreateAccount(context.Context, string, string, pricing.ShippingAddress) error {
	f.calls++
	return f.err
}

type fixture struct {
	store    *memory.Store
	orders   *app.Manager
	provider *provider.Mock
	notifier *recordingNotifier
	idem     *idempotency.MemoryStore
	sagaLog  *sagalog.MemoryRepository
	accounts *fakeAccounts
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		provider: provider.NewMock(50000, nil),
		notifier: &recordingNotifier{},
		idem:     idempotency.NewMemoryStore(),
		sagaLog:  sagalog.NewMemoryRepository(),
		accounts: &fakeAccounts{},
	}
	clock := func() time.Time { return testNow }
	f.orders = app.NewManager(f.store, app.WithClock(clock))
	f.coord = New(f.orders, f.provider, pricing.NewEngine(pricing.DefaultRules()),
		WithIdempotencyStore(f.idem, time.Hour),
		WithNotifier(f.notifier),
		WithAccountCreator(f.accounts),
		WithSagaLog(f.sagaLog),
		WithClock(clock),
	)
	return f
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	return st.Total
}

func germanCheckout() CheckoutRequest {
	return CheckoutRequest{
		Amount: decimal.RequireFromString("60.59"),
		CartItems: []CartItem{
			{ProductID: "vape-1", ProductName: "Starter kit", Quantity: 2, Price: decimal.RequireFromString("20.00")},
		},
		CustomerEmail: "ada@example.com",
		ShippingAddress: pricing.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Address: "Unter den Linden 1",
			City: "Berlin", Region: "BE", PostalCode: "10117", CountryCode: "DE",
		},
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	addr := pricing.ShippingAddress{
		FirstName: "Bob", LastName: "Smith", Address: "1 Market St",
		City: "San Francisco", Region: "CA", PostalCode: "94105", CountryCode: "US",
	}
	q, err := f.coord.Quote(context.Background(), []CartItem{
		{ProductID: "p1", ProductName: "Pod", Quantity: 4, Price: decimal.RequireFromString("20.00")},
	}, addr)
	require.NoError(t, err)

	r := q.Breakdown.Rounded()
	assert.Equal(t, "80.00", r.Subtotal.StringFixed(2))
	assert.Equal(t, "0.00", r.Shipping.StringFixed(2))
	assert.Equal(t, "6.40", r.Tax.StringFixed(2))
	assert.Equal(t, "86.40", r.Total.StringFixed(2))
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, pricing.ClassDomestic, q.CountryClass)
	assert.Equal(t, testNow.AddDate(0, 0, 5), q.EstimatedDelivery)
}

func TestCreateIntent_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientSecret)
	assert.NotEmpty(t, res.OrderNumber)

	order, err := f.orders.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, "60.59", order.TotalAmount.StringFixed(2))
	assert.Equal(t, "EUR", order.Currency)
	assert.Equal(t, res.PaymentIntentID, order.PaymentReference)

	meta := f.provider.Metadata(res.PaymentIntentID)
	assert.Equal(t, res.OrderID, meta["order_id"])
	assert.Equal(t, res.OrderNumber, meta["order_number"])

	// repeated lookups are side-effect free
	a, err := f.orders.GetOrderByPaymentReference(ctx, res.PaymentIntentID)
	require.NoError(t, err)
	b, err := f.orders.GetOrderByPaymentReference(ctx, res.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, f.orderCount(t))
}

func TestCreateIntent_RetryReturnsSameOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)
	second, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.orderCount(t))
}

func TestCreateIntent_ClientKeyInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := idempotency.Derive("checkout-session-1", nil)
	require.NoError(t, err)
	_, claimed, err := f.idem.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	req := germanCheckout()
	req.IdempotencyKey = "checkout-session-1"
	_, err = f.coord.CreateIntent(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrCheckoutInProgress)
	assert.Equal(t, 0, f.orderCount(t))
}

func TestCreateIntent_Validation(t *testing.T) {
	f := newFixture(t)

	req := germanCheckout()
	req.Amount = decimal.RequireFromString("59.00")
	_, err := f.coord.CreateIntent(context.Background(), req)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "amount", verr.Fields[0].Field)

	req = germanCheckout()
	req.ShippingAddress.PostalCode = "ABC"
	req.CartItems[0].ProductName = ""
	req.CartItems[0].Price = decimal.Zero
	_, err = f.coord.CreateIntent(context.Background(), req)
	require.ErrorAs(t, err, &verr)
	fields := map[string]string{}
	for _, fe := range verr.Fields {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, apperr.CodeInvalidPostalCode, fields["postalCode"])
	assert.Equal(t, apperr.CodeMissingField, fields["cartItems[0].product_name"])
	assert.Equal(t, apperr.CodeInvalidValue, fields["cartItems[0].price"])
	assert.Equal(t, 0, f.orderCount(t))
}

func TestCreateIntent_ProviderFailureLeavesNoPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.FailCreate(errors.New("connection reset by peer"))
	_, err := f.coord.CreateIntent(ctx, germanCheckout())

	var perr *apperr.PaymentProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Declined)
	assert.Equal(t, 0, f.orderCount(t))

	// the key was released, so the client may retry
	f.provider.FailCreate(nil)
	res, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 1, f.orderCount(t))
}

func TestCreateIntent_AccountCreationFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.accounts.err = errors.New("email already registered")

	req := germanCheckout()
	req.CreateAccount = true
	req.Password = "s3cret-pass"
	_, err := f.coord.CreateIntent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.accounts.calls)
}

func TestConfirm_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)

	out, err := f.coord.Confirm(ctx, res.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Order.Status)
	assert.Nil(t, out.Retry)

	require.Len(t, f.notifier.payloads, 1)
	p := f.notifier.payloads[0]
	assert.Equal(t, notification.EventOrderConfirmed, p.Event)
	require.NotNil(t, p.Breakdown)
	assert.Equal(t, "60.59", p.Breakdown.Total.StringFixed(2))
	assert.Equal(t, "7.60", p.Breakdown.Tax.StringFixed(2))

	// a repeated confirmation changes nothing and notifies nobody
	again, err := f.coord.Confirm(ctx, res.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Order.Status)
	assert.Len(t, f.notifier.events(), 1)
}

func TestConfirm_DeclineReturnsRetryPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := germanCheckout()
	req.Amount = decimal.Zero
	req.CartItems[0].Price = decimal.RequireFromString("600.00")
	res, err := f.coord.CreateIntent(ctx, req)
	require.NoError(t, err)

	out, err := f.coord.Confirm(ctx, res.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, out.Order.Status)
	require.NotNil(t, out.Retry)
	assert.Equal(t, "card_declined", out.Retry.Reason)
	assert.Equal(t, req.ShippingAddress, out.Retry.ShippingAddress)
	require.Len(t, out.Retry.CartItems, 1)
	assert.Equal(t, "vape-1", out.Retry.CartItems[0].ProductID)
	assert.Equal(t, []notification.Event{notification.EventPaymentFailed}, f.notifier.events())
}

func TestCreateIntent_RetryAfterDeclineStartsNewOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := germanCheckout()
	req.Amount = decimal.Zero
	req.CartItems[0].Price = decimal.RequireFromString("600.00")
	first, err := f.coord.CreateIntent(ctx, req)
	require.NoError(t, err)
	out, err := f.coord.Confirm(ctx, first.PaymentIntentID)
	require.NoError(t, err)
	require.NotNil(t, out.Retry)

	retry, err := f.coord.CreateIntent(ctx, CheckoutRequest{
		CartItems:       out.Retry.CartItems,
		CustomerEmail:   out.Retry.CustomerEmail,
		Currency:        out.Retry.Currency,
		ShippingAddress: out.Retry.ShippingAddress,
		BillingAddress:  out.Retry.BillingAddress,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, retry.OrderID)
	assert.NotEqual(t, first.PaymentIntentID, retry.PaymentIntentID)
	assert.Equal(t, 2, f.orderCount(t))

	old, err := f.orders.GetOrder(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, old.Status)
	fresh, err := f.orders.GetOrder(ctx, retry.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, fresh.Status)
	assert.Equal(t, retry.PaymentIntentID, fresh.PaymentReference)

	// the new attempt is now the one that replays
	again, err := f.coord.CreateIntent(ctx, CheckoutRequest{
		CartItems:       out.Retry.CartItems,
		CustomerEmail:   out.Retry.CustomerEmail,
		Currency:        out.Retry.Currency,
		ShippingAddress: out.Retry.ShippingAddress,
	})
	require.NoError(t, err)
	assert.Equal(t, retry, again)
}

func TestCreateIntent_ClientKeyReplayFollowsOrderState(t *testing.T) {
	ctx := context.Background()

	t.Run("completed order replays", func(t *testing.T) {
		f := newFixture(t)
		req := germanCheckout()
		req.IdempotencyKey = "cart-7"
		first, err := f.coord.CreateIntent(ctx, req)
		require.NoError(t, err)
		_, err = f.coord.Confirm(ctx, first.PaymentIntentID)
		require.NoError(t, err)

		second, err := f.coord.CreateIntent(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, f.orderCount(t))
	})

	t.Run("canceled order starts over", func(t *testing.T) {
		f := newFixture(t)
		req := germanCheckout()
		req.IdempotencyKey = "cart-8"
		first, err := f.coord.CreateIntent(ctx, req)
		require.NoError(t, err)
		_, err = f.orders.UpdateStatus(ctx, first.OrderID, domain.StatusCanceled)
		require.NoError(t, err)

		second, err := f.coord.CreateIntent(ctx, req)
		require.NoError(t, err)
		assert.NotEqual(t, first.OrderID, second.OrderID)
		assert.Equal(t, 2, f.orderCount(t))
	})
}

func TestConfirm_ProcessingOnlyAdvancesToProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)

	f.provider.SetOutcome(res.PaymentIntentID, provider.StatusProcessing, "")
	out, err := f.coord.Confirm(ctx, res.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, out.Order.Status)
	assert.Empty(t, f.notifier.events())
}

func TestConfirm_UnknownIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Confirm(context.Background(), "pi_unknown")
	assert.True(t, apperr.IsNotFound(err))
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.coord.CreateIntent(ctx, germanCheckout())
	require.NoError(t, err)

	ev := WebhookEvent{Type: WebhookSucceeded, IntentID: res.PaymentIntentID}
	require.NoError(t, f.coord.HandleWebhook(ctx, ev))
	require.NoError(t, f.coord.HandleWebhook(ctx, ev))

	order, err := f.orders.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.Len(t, f.notifier.events(), 1)

	assert.NoError(t, f.coord.HandleWebhook(ctx, WebhookEvent{Type: "charge.refunded", IntentID: res.PaymentIntentID}))
	assert.True(t, apperr.IsNotFound(f.coord.HandleWebhook(ctx, WebhookEvent{Type: WebhookFailed, IntentID: "pi_nope"})))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfirmed intent is canceled", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coord.CreateIntent(ctx, germanCheckout())
		require.NoError(t, err)
		order, err := f.orders.GetOrder(ctx, res.OrderID)
		require.NoError(t, err)

		resolution, err := f.coord.Reconcile(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, "canceled", resolution)

		intent, err := f.provider.Retrieve(ctx, res.PaymentIntentID)
		require.NoError(t, err)
		assert.Equal(t, provider.StatusCanceled, intent.Status)
	})

	t.Run("intent that succeeded completes the order", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coord.CreateIntent(ctx, germanCheckout())
		require.NoError(t, err)
		_, err = f.provider.Confirm(ctx, res.PaymentIntentID)
		require.NoError(t, err)
		order, err := f.orders.GetOrder(ctx, res.OrderID)
		require.NoError(t, err)

		resolution, err := f.coord.Reconcile(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, "completed", resolution)
	})

	t.Run("order without reference is canceled", func(t *testing.T) {
		f := newFixture(t)
		order, err := f.orders.CreateOrder(ctx, domain.CreateOrderData{
			CustomerEmail:   "ada@example.com",
			Currency:        "EUR",
			TotalAmount:     decimal.RequireFromString("10"),
			ShippingAddress: germanCheckout().ShippingAddress,
			Items:           []domain.NewItem{{ProductID: "p", ProductName: "P", Quantity: 1, Price: decimal.RequireFromString("10")}},
		})
		require.NoError(t, err)

		resolution, err := f.coord.Reconcile(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, "canceled", resolution)
	})
}

func TestCreateIntent_WritesSagaLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := germanCheckout()
	req.IdempotencyKey = "session-42"
	_, err := f.coord.CreateIntent(ctx, req)
	require.NoError(t, err)

	key, err := idempotency.Derive("session-42", nil)
	require.NoError(t, err)
	history, err := f.sagaLog.History(ctx, key)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "checkout", history[0].Kind)
	assert.Equal(t, sagalog.StatusCompleted, history[len(history)-1].Status)
}
