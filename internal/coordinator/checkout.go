package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/idempotency"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator/saga"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

// amountTolerance is how far a client-supplied amount may be from the
// server-computed total.
var amountTolerance = decimal.New(1, -2)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CartItem is one checkout line as submitted by the client.
type CartItem struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	ProductImageURL string          `json:"product_image_url,omitempty"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
}

// CheckoutRequest is the input of CreateIntent. A zero Amount skips the
// client amount check; an empty Currency is derived from the country.
type CheckoutRequest struct {
	Amount          decimal.Decimal
	Currency        string
	CartItems       []CartItem
	CustomerEmail   string
	ShippingAddress pricing.ShippingAddress
	BillingAddress  *pricing.ShippingAddress
	UserID          string
	CreateAccount   bool
	Password        string
	IdempotencyKey  string
}

type IntentResult struct {
	ClientSecret    string `json:"clientSecret"`
	OrderID         string `json:"orderId"`
	OrderNumber     string `json:"orderNumber"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// Quote is the price preview for a cart and address.
type Quote struct {
	Breakdown         pricing.PriceBreakdown
	Currency          string
	CountryClass      pricing.CountryClass
	EstimatedDelivery time.Time
}

// Quote validates the cart and address and prices them with the same code
// path CreateIntent uses.
func (c *Coordinator) Quote(_ context.Context, items []CartItem, addr pricing.ShippingAddress) (*Quote, error) {
	v := &apperr.ValidationError{}
	v.Merge(c.engine.Validator().Validate(addr))
	v.Merge(validateItems(items))
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	now := c.now()
	breakdown, err := c.engine.CalculateTotals(cartLines(items), addr, now)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Breakdown:         breakdown,
		Currency:          pricing.CurrencyFor(addr.CountryCode),
		CountryClass:      c.engine.Validator().Classify(addr.CountryCode),
		EstimatedDelivery: c.engine.EstimateDelivery(addr, now),
	}, nil
}

// CreateIntent creates a pending order and a provider intent for it.
// A retry with the same idempotency key returns the first result instead of
// creating a second order; a retry while the first attempt is still running
// fails with apperr.ErrCheckoutInProgress. On any failure the pending order
// is discarded.
func (c *Coordinator) CreateIntent(ctx context.Context, req CheckoutRequest) (*IntentResult, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.create_intent")
	defer span.End()

	currency, breakdown, err := c.validateCheckout(req)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		metrics.PaymentIntents.WithLabelValues("invalid").Inc()
		return nil, err
	}
	total := breakdown.Total.Round(2)
	span.SetAttributes(
		attribute.String("checkout.currency", currency),
		attribute.String("checkout.total", total.StringFixed(2)),
		attribute.Int("checkout.items", len(req.CartItems)),
	)

	key, err := idempotency.Derive(req.IdempotencyKey, canonicalTuple(req, currency))
	if err != nil {
		return nil, err
	}
	replayed, err := c.claim(ctx, key)
	if err != nil || replayed != nil {
		return replayed, err
	}

	result, err := c.runCheckout(ctx, key, req, currency, breakdown)
	if err != nil {
		if rerr := c.idem.Release(ctx, key); rerr != nil {
			c.logger.WarnContext(ctx, "failed to release idempotency key", "error", rerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err == nil {
		err = c.idem.Complete(ctx, key, raw, c.idemTTL)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "failed to store checkout result", "order_id", result.OrderID, "error", err)
	}

	span.SetAttributes(attribute.String("order.id", result.OrderID))
	metrics.PaymentIntents.WithLabelValues("created").Inc()
	return result, nil
}

// errAttemptSettled marks a stored result whose order has failed, been
// canceled or disappeared; such an attempt must not be replayed.
var errAttemptSettled = errors.New("checkout attempt settled")

// claim reserves key for a new attempt. It returns the stored result instead
// when an earlier attempt under the same key is still usable. A key whose
// attempt settled without payment is released and claimed again, so the
// retry path after a decline starts a fresh order.
func (c *Coordinator) claim(ctx context.Context, key string) (*IntentResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, claimed, err := c.idem.Reserve(ctx, key, c.idemTTL)
		if err != nil {
			return nil, fmt.Errorf("checkout: reserve idempotency key: %w", err)
		}
		if claimed {
			return nil, nil
		}
		result, err := c.replay(ctx, existing)
		if !errors.Is(err, errAttemptSettled) {
			return result, err
		}
		if err := c.idem.Release(ctx, key); err != nil {
			return nil, fmt.Errorf("checkout: release settled idempotency key: %w", err)
		}
	}
	metrics.PaymentIntents.WithLabelValues("in_progress").Inc()
	return nil, apperr.ErrCheckoutInProgress
}

func (c *Coordinator) replay(ctx context.Context, rec *idempotency.Record) (*IntentResult, error) {
	if rec.State != idempotency.StateCompleted {
		metrics.PaymentIntents.WithLabelValues("in_progress").Inc()
		return nil, apperr.ErrCheckoutInProgress
	}
	var result IntentResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return nil, fmt.Errorf("checkout: decode stored result: %w", err)
	}

	order, err := c.orders.GetOrder(ctx, result.OrderID)
	switch {
	case apperr.IsNotFound(err):
		c.logger.InfoContext(ctx, "stored checkout order is gone, starting over", "order_id", result.OrderID)
		return nil, errAttemptSettled
	case err != nil:
		return nil, fmt.Errorf("checkout: load stored order: %w", err)
	case order.Status == domain.StatusFailed || order.Status == domain.StatusCanceled:
		c.logger.InfoContext(ctx, "stored checkout settled unpaid, starting over",
			"order_id", result.OrderID, "status", string(order.Status))
		return nil, errAttemptSettled
	}

	metrics.PaymentIntents.WithLabelValues("replayed").Inc()
	c.logger.InfoContext(ctx, "checkout replayed", "order_id", result.OrderID)
	return &result, nil
}

func (c *Coordinator) validateCheckout(req CheckoutRequest) (string, pricing.PriceBreakdown, error) {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(req.CustomerEmail) == "" {
		v.Add("customerEmail", apperr.CodeMissingField, "Customer email is required")
	}
	v.Merge(c.engine.Validator().Validate(req.ShippingAddress))
	if req.BillingAddress != nil {
		for _, f := range c.engine.Validator().Validate(*req.BillingAddress) {
			f.Field = "billingAddress." + f.Field
			v.Merge([]apperr.FieldError{f})
		}
	}
	v.Merge(validateItems(req.CartItems))

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = pricing.CurrencyFor(req.ShippingAddress.CountryCode)
	} else if !currencyPattern.MatchString(currency) {
		v.Add("currency", apperr.CodeInvalidValue, "Currency must be a three-letter ISO code")
	}
	if req.CreateAccount && req.Password == "" {
		v.Add("password", apperr.CodeMissingField, "Password is required to create an account")
	}
	if err := v.OrNil(); err != nil {
		return "", pricing.PriceBreakdown{}, err
	}

	breakdown, err := c.engine.CalculateTotals(cartLines(req.CartItems), req.ShippingAddress, c.now())
	if err != nil {
		return "", pricing.PriceBreakdown{}, err
	}
	if !req.Amount.IsZero() && req.Amount.Sub(breakdown.Total).Abs().GreaterThan(amountTolerance) {
		v.Add("amount", apperr.CodeInvalidValue, "Amount does not match the order total")
		return "", pricing.PriceBreakdown{}, v
	}
	return currency, breakdown, nil
}

func validateItems(items []CartItem) []apperr.FieldError {
	if len(items) == 0 {
		return []apperr.FieldError{{Field: "cartItems", Code: apperr.CodeMissingField, Message: "Cart is empty"}}
	}
	var errs []apperr.FieldError
	for i, it := range items {
		field := fmt.Sprintf("cartItems[%d]", i)
		if strings.TrimSpace(it.ProductID) == "" {
			errs = append(errs, apperr.FieldError{Field: field + ".product_id", Code: apperr.CodeMissingField, Message: "Product id is required"})
		}
		if strings.TrimSpace(it.ProductName) == "" {
			errs = append(errs, apperr.FieldError{Field: field + ".product_name", Code: apperr.CodeMissingField, Message: "Product name is required"})
		}
		if it.Quantity < 1 {
			errs = append(errs, apperr.FieldError{Field: field + ".quantity", Code: apperr.CodeInvalidValue, Message: "Quantity must be at least 1"})
		}
		if !it.Price.IsPositive() {
			errs = append(errs, apperr.FieldError{Field: field + ".price", Code: apperr.CodeInvalidValue, Message: "Price must be greater than zero"})
		}
	}
	return errs
}

func cartLines(items []CartItem) []pricing.CartLine {
	lines := make([]pricing.CartLine, len(items))
	for i, it := range items {
		lines[i] = pricing.CartLine{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.Price}
	}
	return lines
}

type canonicalItem struct {
	ProductID string `json:"p"`
	Quantity  int    `json:"q"`
	Price     string `json:"u"`
}

type canonicalCheckout struct {
	Items    []canonicalItem         `json:"items"`
	Address  pricing.ShippingAddress `json:"address"`
	Email    string                  `json:"email"`
	Currency string                  `json:"currency"`
	UserID   string                  `json:"user_id"`
}

// canonicalTuple is the order-insensitive identity of a checkout attempt.
func canonicalTuple(req CheckoutRequest, currency string) canonicalCheckout {
	items := make([]canonicalItem, len(req.CartItems))
	for i, it := range req.CartItems {
		items[i] = canonicalItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price.String()}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		if items[i].Price != items[j].Price {
			return items[i].Price < items[j].Price
		}
		return items[i].Quantity < items[j].Quantity
	})

	addr := req.ShippingAddress
	addr.CountryCode = pricing.NormalizeCountry(addr.CountryCode)
	return canonicalCheckout{
		Items:    items,
		Address:  addr,
		Email:    strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		Currency: currency,
		UserID:   req.UserID,
	}
}

func (c *Coordinator) runCheckout(ctx context.Context, key string, req CheckoutRequest, currency string, breakdown pricing.PriceBreakdown) (*IntentResult, error) {
	c.maybeCreateAccount(ctx, req)

	data := domain.CreateOrderData{
		UserID:          req.UserID,
		CustomerEmail:   req.CustomerEmail,
		Currency:        currency,
		TotalAmount:     breakdown.Total,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Items:           make([]domain.NewItem, len(req.CartItems)),
	}
	for i, it := range req.CartItems {
		data.Items[i] = domain.NewItem{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			Price:           it.Price,
		}
	}

	orderStep := NewCreateOrderStep(c.orders, data)
	intentStep := NewRequestIntentStep(c.provider, orderStep.Order, func(o *domain.Order) provider.IntentRequest {
		return provider.IntentRequest{
			AmountMinor: pricing.MinorUnits(breakdown.Total),
			Currency:    strings.ToLower(currency),
			Metadata: map[string]string{
				"order_id":     o.ID,
				"order_number": o.OrderNumber,
			},
			IdempotencyKey: key + ":" + o.ID,
		}
	})
	attachStep := NewAttachReferenceStep(c.orders, orderStep.Order, intentStep.Intent)

	payload := fmt.Sprintf(`{"total":%q,"currency":%q,"items":%d}`,
		breakdown.Total.StringFixed(2), currency, len(req.CartItems))
	orchestrator := saga.New("checkout", key, []saga.Step{orderStep, intentStep, attachStep},
		saga.WithLog(c.sagaLog),
		saga.WithPayload(payload),
		saga.WithLogger(c.logger),
	)
	if err := orchestrator.Start(ctx); err != nil {
		return nil, c.checkoutError(ctx, err)
	}

	order := orderStep.Order()
	intent := intentStep.Intent()
	c.logger.InfoContext(ctx, "payment intent created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"payment_intent_id", intent.ID,
		"total", breakdown.Total.StringFixed(2),
		"currency", currency,
	)
	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		PaymentIntentID: intent.ID,
	}, nil
}

// checkoutError reduces a failed checkout saga to what the caller may see:
// provider errors and validation errors as they are, everything else as a
// PersistenceError.
func (c *Coordinator) checkoutError(ctx context.Context, err error) error {
	var sagaErr *saga.Error
	if errors.As(err, &sagaErr) && !sagaErr.Compensated() {
		c.logger.ErrorContext(ctx, "CRITICAL: checkout compensation incomplete", "error", err)
	}

	var perr *apperr.PaymentProviderError
	if errors.As(err, &perr) {
		if perr.Declined {
			metrics.PaymentIntents.WithLabelValues("declined").Inc()
		} else {
			metrics.PaymentIntents.WithLabelValues("provider_error").Inc()
		}
		return perr
	}
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		metrics.PaymentIntents.WithLabelValues("invalid").Inc()
		return verr
	}
	metrics.PaymentIntents.WithLabelValues("failed").Inc()
	var pe *apperr.PersistenceError
	if errors.As(err, &pe) {
		return pe
	}
	return &apperr.PersistenceError{Op: "checkout", Err: err}
}

func (c *Coordinator) maybeCreateAccount(ctx context.Context, req CheckoutRequest) {
	if !req.CreateAccount {
		return
	}
	if c.accounts == nil {
		c.logger.WarnContext(ctx, "account creation requested but no account service is configured")
		return
	}
	if err := c.accounts.CreateAccount(ctx, req.CustomerEmail, req.Password, req.ShippingAddress); err != nil {
		c.logger.WarnContext(ctx, "account creation failed, continuing checkout", "error", err)
	}
}
