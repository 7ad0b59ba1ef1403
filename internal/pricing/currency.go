package pricing

const defaultCurrency = "EUR"

var currencyByCountry = map[string]string{
	"CH": "CHF",
	"SE": "SEK",
	"NO": "NOK",
	"DK": "DKK",
	"GB": "GBP",
	"US": "USD",
}

// CurrencyFor returns the ISO currency charged for a destination country.
// Countries without their own currency entry settle in EUR.
func CurrencyFor(countryCode string) string {
	if c, ok := currencyByCountry[NormalizeCountry(countryCode)]; ok {
		return c
	}
	return defaultCurrency
}
