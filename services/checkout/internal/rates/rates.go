// Package rates resolves the tax rate for a shipping destination and the
// cost of a shipping method from a YAML rate book.
//
//	tax:
//	  default: 12
//	  countries: {PH: 12, US: 0}
//	  regions: {US-CA: 7.25}
//	shipping:
//	  standard: 50
//	  express: 150
package rates

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

var ErrUnknownShippingMethod = errors.New("unknown shipping method")

type Book struct {
	defaultTax decimal.Decimal
	countries  map[string]decimal.Decimal
	regions    map[string]decimal.Decimal
	shipping   map[string]decimal.Decimal
}

func Load(path string) (*Book, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rate book %s: %w", path, err)
	}

	b := &Book{
		defaultTax: decimal.NewFromFloat(k.Float64("tax.default")),
		countries:  toDecimals(k.Float64Map("tax.countries")),
		regions:    toDecimals(k.Float64Map("tax.regions")),
		shipping:   make(map[string]decimal.Decimal),
	}
	for m, v := range k.Float64Map("shipping") {
		b.shipping[strings.ToLower(m)] = decimal.NewFromFloat(v)
	}
	if len(b.shipping) == 0 {
		return nil, fmt.Errorf("rate book %s defines no shipping methods", path)
	}
	return b, nil
}

// New builds a book from in-memory rates instead of a YAML file.
func New(defaultTax decimal.Decimal, countries, regions, shipping map[string]decimal.Decimal) *Book {
	b := &Book{
		defaultTax: defaultTax,
		countries:  make(map[string]decimal.Decimal, len(countries)),
		regions:    make(map[string]decimal.Decimal, len(regions)),
		shipping:   make(map[string]decimal.Decimal, len(shipping)),
	}
	for k, v := range countries {
		b.countries[strings.ToUpper(k)] = v
	}
	for k, v := range regions {
		b.regions[strings.ToUpper(k)] = v
	}
	for k, v := range shipping {
		b.shipping[strings.ToLower(k)] = v
	}
	return b
}

func toDecimals(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = decimal.NewFromFloat(v)
	}
	return out
}

// TaxRate picks the most specific rate: COUNTRY-STATE, then COUNTRY, then
// the default.
func (b *Book) TaxRate(country, state string) decimal.Decimal {
	country = strings.ToUpper(strings.TrimSpace(country))
	state = strings.ToUpper(strings.TrimSpace(state))
	if state != "" {
		if r, ok := b.regions[country+"-"+state]; ok {
			return r
		}
	}
	if r, ok := b.countries[country]; ok {
		return r
	}
	return b.defaultTax
}

func (b *Book) ShippingCost(method string) (decimal.Decimal, error) {
	c, ok := b.shipping[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownShippingMethod, method)
	}
	return c, nil
}

// ShippingMethods lists the configured methods in sorted order.
func (b *Book) ShippingMethods() []string {
	out := make([]string, 0, len(b.shipping))
	for m := range b.shipping {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
