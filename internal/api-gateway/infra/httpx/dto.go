package httpx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

type CartItemDTO struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	ProductImageURL string          `json:"product_image_url,omitempty"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
}

type QuoteRequest struct {
	CartItems       []CartItemDTO           `json:"cartItems"`
	ShippingAddress pricing.ShippingAddress `json:"shippingAddress"`
}

type QuoteResponse struct {
	Subtotal          string `json:"subtotal"`
	Shipping          string `json:"shipping"`
	Tax               string `json:"tax"`
	Total             string `json:"total"`
	Currency          string `json:"currency"`
	CountryClass      string `json:"country_class"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

type CreateIntentRequest struct {
	Amount          decimal.Decimal          `json:"amount"`
	Currency        string                   `json:"currency"`
	CartItems       []CartItemDTO            `json:"cartItems"`
	CustomerEmail   string                   `json:"customerEmail"`
	ShippingAddress pricing.ShippingAddress  `json:"shippingAddress"`
	BillingAddress  *pricing.ShippingAddress `json:"billingAddress,omitempty"`
	UserID          string                   `json:"userId,omitempty"`
	CreateAccount   bool                     `json:"createAccount,omitempty"`
	Password        string                   `json:"password,omitempty"`
}

type ConfirmResponse struct {
	Order OrderResponse          `json:"order"`
	Retry *coordinator.RetryPath `json:"retry,omitempty"`
}

// WebhookRequest is the provider event envelope.
type WebhookRequest struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

type OrderResponse struct {
	ID               string                   `json:"id"`
	OrderNumber      string                   `json:"order_number"`
	UserID           string                   `json:"user_id,omitempty"`
	PaymentReference string                   `json:"payment_reference,omitempty"`
	Status           string                   `json:"status"`
	TotalAmount      string                   `json:"total_amount"`
	Currency         string                   `json:"currency"`
	ShippingAddress  pricing.ShippingAddress  `json:"shipping_address"`
	BillingAddress   *pricing.ShippingAddress `json:"billing_address,omitempty"`
	CustomerEmail    string                   `json:"customer_email"`
	CreatedAt        string                   `json:"created_at"`
	UpdatedAt        string                   `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	ProductImageURL string `json:"product_image_url,omitempty"`
	Quantity        int    `json:"quantity"`
	PriceAtTime     string `json:"price_at_time"`
	Subtotal        string `json:"subtotal"`
}

type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
	Count  int             `json:"count"`
}

type StatsResponse struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"by_status"`
	CompletedRevenue string         `json:"completed_revenue"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type RateLimitRequest struct {
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
}

type RateLimitResponse struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	Message   string    `json:"message,omitempty"`
}

type RateLimitStatusResponse struct {
	Count        int        `json:"count"`
	Remaining    int        `json:"remaining"`
	ResetTime    time.Time  `json:"reset_time"`
	Blocked      bool       `json:"blocked"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

type ErrorResponse struct {
	Error     string              `json:"error"`
	Message   string              `json:"message,omitempty"`
	Fields    []apperr.FieldError `json:"fields,omitempty"`
	Remaining *int                `json:"remaining,omitempty"`
	ResetTime *time.Time          `json:"reset_time,omitempty"`
}
