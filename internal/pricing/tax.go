package pricing

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TaxRules looks up the VAT rate in force for a country on a given date.
type TaxRules interface {
	Rate(country string, on time.Time) (decimal.Decimal, bool)
	Has(country string) bool
}

// Rule is one VAT rate for a country, in force from EffectiveFrom (inclusive)
// until the next rule for the same country. A zero EffectiveFrom means the
// rule has always applied.
type Rule struct {
	Country       string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
}

// RuleTable is an immutable TaxRules implementation.
type RuleTable struct {
	byCountry map[string][]Rule
}

var _ TaxRules = (*RuleTable)(nil)

// NewRuleTable validates and indexes rules. Rates must lie in [0, 1).
func NewRuleTable(rules []Rule) (*RuleTable, error) {
	t := &RuleTable{byCountry: make(map[string][]Rule)}
	for _, r := range rules {
		r.Country = NormalizeCountry(r.Country)
		if !countryCodePattern.MatchString(r.Country) {
			return nil, fmt.Errorf("pricing: invalid country code %q in tax rules", r.Country)
		}
		if r.Rate.IsNegative() || r.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("pricing: tax rate %s for %s out of range", r.Rate, r.Country)
		}
		t.byCountry[r.Country] = append(t.byCountry[r.Country], r)
	}
	for country, rs := range t.byCountry {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].EffectiveFrom.Before(rs[j].EffectiveFrom) })
		for i := 1; i < len(rs); i++ {
			if rs[i].EffectiveFrom.Equal(rs[i-1].EffectiveFrom) {
				return nil, fmt.Errorf("pricing: duplicate tax rule for %s effective %s",
					country, rs[i].EffectiveFrom.Format(time.DateOnly))
			}
		}
	}
	return t, nil
}

// Rate returns the most recent rule for country that is in force on the
// given date.
func (t *RuleTable) Rate(country string, on time.Time) (decimal.Decimal, bool) {
	rs := t.byCountry[NormalizeCountry(country)]
	for i := len(rs) - 1; i >= 0; i-- {
		if !rs[i].EffectiveFrom.After(on) {
			return rs[i].Rate, true
		}
	}
	return decimal.Zero, false
}

func (t *RuleTable) Has(country string) bool {
	_, ok := t.byCountry[NormalizeCountry(country)]
	return ok
}

// Countries lists the countries with at least one rule, sorted.
func (t *RuleTable) Countries() []string {
	out := make([]string, 0, len(t.byCountry))
	for c := range t.byCountry {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

var defaultVATRates = map[string]string{
	"DE": "0.19",
	"FR": "0.20",
	"ES": "0.21",
	"IT": "0.22",
	"NL": "0.21",
	"BE": "0.21",
	"AT": "0.20",
	"CH": "0.077",
	"SE": "0.25",
	"NO": "0.25",
	"DK": "0.25",
	"FI": "0.24",
	"GB": "0.20",
	"PL": "0.23",
	"PT": "0.23",
	"IE": "0.23",
}

// DefaultRules returns the built-in VAT table, valid for all dates.
func DefaultRules() *RuleTable {
	rules := make([]Rule, 0, len(defaultVATRates))
	for country, rate := range defaultVATRates {
		rules = append(rules, Rule{Country: country, Rate: decimal.RequireFromString(rate)})
	}
	t, err := NewRuleTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}

type taxRulesFile struct {
	Rules []struct {
		Country       string `yaml:"country"`
		Rate          string `yaml:"rate"`
		EffectiveFrom string `yaml:"effective_from"`
	} `yaml:"rules"`
}

// LoadTaxRules reads a YAML rule file:
//
//	rules:
//	  - country: DE
//	    rate: "0.19"
//	    effective_from: "2024-01-01"
func LoadTaxRules(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read tax rules %q: %w", path, err)
	}
	return ParseTaxRules(data)
}

// ParseTaxRules parses the YAML form accepted by LoadTaxRules.
func ParseTaxRules(data []byte) (*RuleTable, error) {
	var f taxRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("pricing: parse tax rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("pricing: tax rules file has no rules")
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		rate, err := decimal.NewFromString(fr.Rate)
		if err != nil {
			return nil, fmt.Errorf("pricing: rule %d (%s): rate %q: %w", i, fr.Country, fr.Rate, err)
		}
		var from time.Time
		if fr.EffectiveFrom != "" {
			from, err = time.Parse(time.DateOnly, fr.EffectiveFrom)
			if err != nil {
				return nil, fmt.Errorf("pricing: rule %d (%s): effective_from: %w", i, fr.Country, err)
			}
		}
		rules = append(rules, Rule{Country: fr.Country, Rate: rate, EffectiveFrom: from})
	}
	return NewRuleTable(rules)
}
