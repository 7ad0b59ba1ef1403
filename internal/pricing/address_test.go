package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
)

func TestClassify(t *testing.T) {
	v := NewAddressValidator(DefaultRules())

	assert.Equal(t, ClassEUVAT, v.Classify("DE"))
	assert.Equal(t, ClassEUVAT, v.Classify(" ch "))
	assert.Equal(t, ClassDomestic, v.Classify("US"))
	assert.Equal(t, ClassOther, v.Classify("JP"))
}

func TestValidate_AcceptsValidAddresses(t *testing.T) {
	v := NewAddressValidator(DefaultRules())

	assert.Empty(t, v.Validate(addressIn("DE", "10115")))
	assert.Empty(t, v.Validate(addressIn("NL", "1234 ")))
	assert.Empty(t, v.Validate(addressIn("US", "94105-1234")))
	assert.Empty(t, v.Validate(addressIn("JP", "100-0001")))
}

func TestValidate_ReportsEveryMissingField(t *testing.T) {
	v := NewAddressValidator(DefaultRules())

	errs := v.Validate(ShippingAddress{City: "Berlin"})

	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		assert.Equal(t, apperr.CodeMissingField, e.Code)
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"firstName", "lastName", "address", "region", "postalCode", "countryCode"}, fields)
}

func TestValidate_PostalCodes(t *testing.T) {
	v := NewAddressValidator(DefaultRules())

	tests := []struct {
		name    string
		country string
		postal  string
		valid   bool
	}{
		{"eu four digits", "AT", "1010", true},
		{"eu letters", "DE", "AB123", false},
		{"eu too long", "FR", "7500123", false},
		{"domestic zip", "US", "02139", true},
		{"domestic zip+4", "US", "02139-4307", true},
		{"domestic short", "US", "2139", false},
		{"other unchecked", "BR", "anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.Validate(addressIn(tt.country, tt.postal))
			if tt.valid {
				assert.Empty(t, errs)
				return
			}
			if assert.Len(t, errs, 1) {
				assert.Equal(t, apperr.CodeInvalidPostalCode, errs[0].Code)
			}
		})
	}
}

func TestValidate_InvalidCountry(t *testing.T) {
	v := NewAddressValidator(DefaultRules())

	errs := v.Validate(addressIn("Germany", "10115"))
	if assert.Len(t, errs, 1) {
		assert.Equal(t, apperr.CodeInvalidCountry, errs[0].Code)
		assert.Equal(t, "countryCode", errs[0].Field)
	}
}
