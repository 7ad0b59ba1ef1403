package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

// Order is the persisted record of one checkout. TotalAmount is the price
// breakdown total frozen at creation and never recomputed.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	PaymentReference string
	Status           Status
	TotalAmount      decimal.Decimal
	Currency         string
	ShippingAddress  pricing.ShippingAddress
	BillingAddress   *pricing.ShippingAddress
	CustomerEmail    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderItem is immutable once written and always created together with its
// parent order.
type OrderItem struct {
	OrderID         string
	ProductID       string
	ProductName     string
	ProductImageURL string
	Quantity        int
	PriceAtTime     decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.PriceAtTime.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewItem is a line to be written with a new order.
type NewItem struct {
	ProductID       string
	ProductName     string
	ProductImageURL string
	Quantity        int
	Price           decimal.Decimal
}

// CreateOrderData is everything needed to create an order and its items.
type CreateOrderData struct {
	UserID          string
	CustomerEmail   string
	Currency        string
	TotalAmount     decimal.Decimal
	ShippingAddress pricing.ShippingAddress
	BillingAddress  *pricing.ShippingAddress
	Items           []NewItem
}

// ListFilter narrows ListOrders. Zero values mean "any".
type ListFilter struct {
	Status        Status
	UserID        string
	CreatedBefore time.Time
	Limit         int
}

// Stats summarises the order table.
type Stats struct {
	Total            int
	ByStatus         map[Status]int
	CompletedRevenue decimal.Decimal
}
