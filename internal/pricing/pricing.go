// Package pricing turns a cart and a shipping address into a price breakdown.
//
// All arithmetic is exact decimal. Nothing is rounded until a value leaves
// the package for display (PriceBreakdown.Rounded), for the order snapshot,
// or for conversion into provider minor units (MinorUnits).
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
)

var (
	euFreeShippingThreshold       = decimal.RequireFromString("75.00")
	euShippingRate                = decimal.RequireFromString("12.99")
	domesticFreeShippingThreshold = decimal.RequireFromString("50.00")
	domesticShippingRate          = decimal.RequireFromString("5.99")

	// ReferenceTaxRate applies to every country without a VAT rule,
	// regardless of sub-region.
	ReferenceTaxRate = decimal.RequireFromString("0.08")
)

const (
	euDeliveryDays    = 3
	otherDeliveryDays = 5
	displayPlaces     = 2
)

// CartLine is one product line supplied by the cart.
type CartLine struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PriceBreakdown is derived fresh for every calculation and never mutated.
type PriceBreakdown struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Rounded returns the breakdown with every field rounded half away from
// zero to cents. Total is rounded from the exact sum, so it may differ by a
// cent from the sum of the rounded parts.
func (b PriceBreakdown) Rounded() PriceBreakdown {
	return PriceBreakdown{
		Subtotal: b.Subtotal.Round(displayPlaces),
		Shipping: b.Shipping.Round(displayPlaces),
		Tax:      b.Tax.Round(displayPlaces),
		Total:    b.Total.Round(displayPlaces),
	}
}

// MinorUnits converts an amount to integer cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Engine computes shipping, tax and totals. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	rules     TaxRules
	validator *AddressValidator
}

func NewEngine(rules TaxRules) *Engine {
	return &Engine{rules: rules, validator: NewAddressValidator(rules)}
}

// Validator exposes the address validator bound to the same tax rules.
func (e *Engine) Validator() *AddressValidator { return e.validator }

// CalculateShipping returns the flat shipping rate for the class, or zero
// once the subtotal reaches the free-shipping threshold.
func (e *Engine) CalculateShipping(subtotal decimal.Decimal, class CountryClass) decimal.Decimal {
	threshold, rate := domesticFreeShippingThreshold, domesticShippingRate
	if class == ClassEUVAT {
		threshold, rate = euFreeShippingThreshold, euShippingRate
	}
	if subtotal.GreaterThanOrEqual(threshold) {
		return decimal.Zero
	}
	return rate
}

// CalculateTax applies the country's VAT rate in force on the given date,
// falling back to ReferenceTaxRate.
func (e *Engine) CalculateTax(subtotal decimal.Decimal, countryCode string, on time.Time) decimal.Decimal {
	rate, ok := e.rules.Rate(countryCode, on)
	if !ok {
		rate = ReferenceTaxRate
	}
	return subtotal.Mul(rate)
}

// Subtotal sums unit price times quantity over all lines.
func Subtotal(lines []CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// ValidateLines checks quantities and prices of the cart lines.
func ValidateLines(lines []CartLine) []apperr.FieldError {
	if len(lines) == 0 {
		return []apperr.FieldError{{Field: "cartItems", Code: apperr.CodeMissingField, Message: "Cart is empty"}}
	}
	var errs []apperr.FieldError
	for i, l := range lines {
		if l.ProductID == "" {
			errs = append(errs, apperr.FieldError{
				Field: fmt.Sprintf("cartItems[%d].product_id", i), Code: apperr.CodeMissingField, Message: "Product id is required",
			})
		}
		if l.Quantity < 1 {
			errs = append(errs, apperr.FieldError{
				Field: fmt.Sprintf("cartItems[%d].quantity", i), Code: apperr.CodeInvalidValue, Message: "Quantity must be at least 1",
			})
		}
		if l.UnitPrice.IsNegative() {
			errs = append(errs, apperr.FieldError{
				Field: fmt.Sprintf("cartItems[%d].price", i), Code: apperr.CodeInvalidValue, Message: "Price must not be negative",
			})
		}
	}
	return errs
}

// CalculateTotals prices the cart for the address using the rules in force
// on the given date. The same inputs always yield the same breakdown.
func (e *Engine) CalculateTotals(lines []CartLine, addr ShippingAddress, on time.Time) (PriceBreakdown, error) {
	if errs := ValidateLines(lines); len(errs) > 0 {
		return PriceBreakdown{}, &apperr.ValidationError{Fields: errs}
	}

	subtotal := Subtotal(lines)
	country := addr.Country()
	shipping := e.CalculateShipping(subtotal, e.validator.Classify(country))
	tax := e.CalculateTax(subtotal, country, on)

	return PriceBreakdown{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}, nil
}

// EstimateDelivery returns the expected delivery date for the address.
func (e *Engine) EstimateDelivery(addr ShippingAddress, now time.Time) time.Time {
	if e.validator.Classify(addr.CountryCode) == ClassEUVAT {
		return now.AddDate(0, 0, euDeliveryDays)
	}
	return now.AddDate(0, 0, otherDeliveryDays)
}
