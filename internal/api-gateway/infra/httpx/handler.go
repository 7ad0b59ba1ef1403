package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront-checkout/internal/api-gateway/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/app"
	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

const maxBodyBytes = 1 << 20

// Handler serves the checkout, order and rate-limit endpoints.
type Handler struct {
	checkout ports.CheckoutService
	orders   ports.OrderService
	limiter  ports.RateLimiter
}

func NewHandler(checkout ports.CheckoutService, orders ports.OrderService, limiter ports.RateLimiter) *Handler {
	return &Handler{checkout: checkout, orders: orders, limiter: limiter}
}

// Quote prices a cart for an address without side effects.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.checkout.Quote(r.Context(), mapCartItems(req.CartItems), req.ShippingAddress)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	b := q.Breakdown.Rounded()
	writeJSON(w, http.StatusOK, QuoteResponse{
		Subtotal:          b.Subtotal.StringFixed(2),
		Shipping:          b.Shipping.StringFixed(2),
		Tax:               b.Tax.StringFixed(2),
		Total:             b.Total.StringFixed(2),
		Currency:          q.Currency,
		CountryClass:      string(q.CountryClass),
		EstimatedDelivery: q.EstimatedDelivery.UTC().Format(time.DateOnly),
	})
}

// CreatePaymentIntent creates the pending order and its payment intent.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slog.InfoContext(r.Context(), "creating payment intent",
		"request_id", interceptors.RequestIDFromContext(r.Context()),
		"items", len(req.CartItems),
	)

	res, err := h.checkout.CreateIntent(r.Context(), coordinator.CheckoutRequest{
		Amount:          req.Amount,
		Currency:        req.Currency,
		CartItems:       mapCartItems(req.CartItems),
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		UserID:          req.UserID,
		CreateAccount:   req.CreateAccount,
		Password:        req.Password,
		IdempotencyKey:  interceptors.IdempotencyKeyFromContext(r.Context()),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ConfirmPaymentIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")

	res, err := h.checkout.Confirm(r.Context(), intentID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Retry != nil {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, ConfirmResponse{Order: mapOrderToResponse(res.Order), Retry: res.Retry})
}

// PaymentWebhook accepts provider events. Unknown events are acknowledged.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.checkout.HandleWebhook(r.Context(), coordinator.WebhookEvent{Type: req.Type, IntentID: req.Data.Object.ID})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// GetOrderByID retrieves a single order by its ID.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) GetOrderByPaymentReference(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByPaymentReference(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) GetOrderItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.orders.GetOrderItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapItems(items))
}

// ListOrders supports ?status=&older_than=&user_id=&limit=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), q)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrders(orders))
}

// ListUserOrders returns a user's orders, newest first.
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeAppError(w, r, &apperr.ValidationError{Fields: []apperr.FieldError{{
				Field: "limit", Code: apperr.CodeInvalidValue, Message: "limit must be a positive integer",
			}}})
			return
		}
		limit = n
	}
	orders, err := h.orders.ListUserOrders(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrders(orders))
}

func mapOrders(orders []domain.Order) ListOrdersResponse {
	resp := ListOrdersResponse{Orders: make([]OrderResponse, len(orders)), Count: len(orders)}
	for i := range orders {
		resp.Orders[i] = mapOrderToResponse(&orders[i])
	}
	return resp
}

func parseListQuery(r *http.Request) (app.ListQuery, error) {
	v := &apperr.ValidationError{}
	values := r.URL.Query()
	q := app.ListQuery{UserID: values.Get("user_id")}

	if s := values.Get("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			v.Add("status", apperr.CodeInvalidValue, "Unknown order status")
		}
		q.Status = status
	}
	if s := values.Get("older_than"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			v.Add("older_than", apperr.CodeInvalidValue, "older_than must be a positive duration such as 30m")
		}
		q.OlderThan = d
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			v.Add("limit", apperr.CodeInvalidValue, "limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, v.OrNil()
}

func (h *Handler) OrderStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := StatsResponse{Total: st.Total, ByStatus: make(map[string]int, len(st.ByStatus)), CompletedRevenue: st.CompletedRevenue.StringFixed(2)}
	for s, n := range st.ByStatus {
		resp.ByStatus[string(s)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeAppError(w, r, &apperr.ValidationError{Fields: []apperr.FieldError{{
			Field: "status", Code: apperr.CodeInvalidValue, Message: "Unknown order status",
		}}})
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// CheckRateLimit records an attempt. Denials are 429 with a message that is
// the same whether or not the identifier is known.
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RateLimitRequest
	if !decodeJSON(w, r, &req) || !validRateLimitRequest(w, r, req.Action, req.Identifier) {
		return
	}

	d, err := h.limiter.Check(r.Context(), req.Identifier, ratelimit.Action(req.Action))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := d.Err(); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RateLimitResponse{Allowed: true, Remaining: d.Remaining, ResetTime: d.ResetTime.UTC()})
}

func (h *Handler) RecordRateLimitSuccess(w http.ResponseWriter, r *http.Request) {
	var req RateLimitRequest
	if !decodeJSON(w, r, &req) || !validRateLimitRequest(w, r, req.Action, req.Identifier) {
		return
	}
	if err := h.limiter.RecordSuccess(r.Context(), req.Identifier, ratelimit.Action(req.Action)); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	action, identifier := r.URL.Query().Get("action"), r.URL.Query().Get("identifier")
	if !validRateLimitRequest(w, r, action, identifier) {
		return
	}
	st, err := h.limiter.Status(r.Context(), identifier, ratelimit.Action(action))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := RateLimitStatusResponse{
		Count:     st.Count,
		Remaining: st.Remaining,
		ResetTime: st.ResetTime.UTC(),
		Blocked:   st.Blocked,
	}
	if st.Blocked {
		until := st.BlockedUntil.UTC()
		resp.BlockedUntil = &until
	}
	writeJSON(w, http.StatusOK, resp)
}

func validRateLimitRequest(w http.ResponseWriter, r *http.Request, action, identifier string) bool {
	v := &apperr.ValidationError{}
	if action == "" {
		v.Add("action", apperr.CodeMissingField, "Action is required")
	}
	if strings.TrimSpace(identifier) == "" {
		v.Add("identifier", apperr.CodeMissingField, "Identifier is required")
	}
	if err := v.OrNil(); err != nil {
		writeAppError(w, r, err)
		return false
	}
	return true
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is empty")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
	return false
}

func mapCartItems(in []CartItemDTO) []coordinator.CartItem {
	out := make([]coordinator.CartItem, len(in))
	for i, it := range in {
		out[i] = coordinator.CartItem{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			Price:           it.Price,
		}
	}
	return out
}

// mapOrderToResponse converts the order to the HTTP response format.
func mapOrderToResponse(order *domain.Order) OrderResponse {
	return OrderResponse{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		TotalAmount:      order.TotalAmount.StringFixed(2),
		Currency:         order.Currency,
		ShippingAddress:  order.ShippingAddress,
		BillingAddress:   order.BillingAddress,
		CustomerEmail:    order.CustomerEmail,
		CreatedAt:        order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func mapItems(items []domain.OrderItem) []OrderItemResponse {
	out := make([]OrderItemResponse, len(items))
	for i, it := range items {
		out[i] = OrderItemResponse{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			PriceAtTime:     it.PriceAtTime.StringFixed(2),
			Subtotal:        it.Subtotal().StringFixed(2),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
