// Package money holds the decimal helpers shared by pricing and coupons.
// Amounts are shopspring decimals rounded half away from zero to cents.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const Places = 2

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns round2(base * rate / 100).
func Percent(base, rate decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(rate).Div(hundred))
}

// Clamp limits d to [0, max].
func Clamp(d, max decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(max) {
		d = max
	}
	if d.IsNegative() {
		return Zero
	}
	return d
}

// ToCentavos converts an amount to the smallest currency unit, which is what
// payment gateways expect.
func ToCentavos(d decimal.Decimal) int64 {
	return Round2(d).Mul(hundred).IntPart()
}

func FromCentavos(c int64) decimal.Decimal {
	return decimal.New(c, -Places)
}

func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
