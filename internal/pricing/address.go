package pricing

import (
	"regexp"
	"strings"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
)

// CountryClass groups destination countries by how they are taxed and shipped.
type CountryClass string

const (
	ClassEUVAT    CountryClass = "EU_VAT"
	ClassDomestic CountryClass = "DOMESTIC"
	ClassOther    CountryClass = "OTHER"
)

// DomesticCountry is the single non-VAT reference market.
const DomesticCountry = "US"

var (
	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
	euPostalPattern    = regexp.MustCompile(`^[0-9\s]{4,6}$`)
	domesticZipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// ShippingAddress is the destination entered at checkout.
type ShippingAddress struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Region      string `json:"region"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
}

// Country returns the normalised ISO country code.
func (a ShippingAddress) Country() string {
	return NormalizeCountry(a.CountryCode)
}

// NormalizeCountry trims and upper-cases a country code.
func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AddressValidator validates and classifies shipping addresses. It is
// stateless apart from the tax rule table it classifies against.
type AddressValidator struct {
	rules TaxRules
}

func NewAddressValidator(rules TaxRules) *AddressValidator {
	return &AddressValidator{rules: rules}
}

// Classify maps a country code to its class. EU_VAT is any country the tax
// rule table knows a VAT rate for.
func (v *AddressValidator) Classify(countryCode string) CountryClass {
	code := NormalizeCountry(countryCode)
	switch {
	case v.rules.Has(code):
		return ClassEUVAT
	case code == DomesticCountry:
		return ClassDomestic
	default:
		return ClassOther
	}
}

// Validate returns every field problem found, or nil. Postal codes of OTHER
// countries are accepted unchecked.
func (v *AddressValidator) Validate(a ShippingAddress) []apperr.FieldError {
	var errs []apperr.FieldError
	required := []struct {
		field, value, message string
	}{
		{"firstName", a.FirstName, "First name is required"},
		{"lastName", a.LastName, "Last name is required"},
		{"address", a.Address, "Street address is required"},
		{"city", a.City, "City is required"},
		{"region", a.Region, "State/Region is required"},
		{"postalCode", a.PostalCode, "Postal code is required"},
		{"countryCode", a.CountryCode, "Country is required"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, apperr.FieldError{Field: r.field, Code: apperr.CodeMissingField, Message: r.message})
		}
	}

	country := a.Country()
	if country == "" {
		return errs
	}
	if !countryCodePattern.MatchString(country) {
		return append(errs, apperr.FieldError{
			Field:   "countryCode",
			Code:    apperr.CodeInvalidCountry,
			Message: "Country must be a two-letter ISO code",
		})
	}

	postal := strings.TrimSpace(a.PostalCode)
	if postal == "" {
		return errs
	}
	switch v.Classify(country) {
	case ClassEUVAT:
		if !euPostalPattern.MatchString(postal) {
			errs = append(errs, apperr.FieldError{
				Field:   "postalCode",
				Code:    apperr.CodeInvalidPostalCode,
				Message: "Postal code must be 4-6 digits",
			})
		}
	case ClassDomestic:
		if !domesticZipPattern.MatchString(postal) {
			errs = append(errs, apperr.FieldError{
				Field:   "postalCode",
				Code:    apperr.CodeInvalidPostalCode,
				Message: "ZIP code must be in format 12345 or 12345-6789",
			})
		}
	}
	return errs
}
