// Package pricing computes order totals. It is pure: the discount it is
// handed has already been validated by the coupon package.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/online_pharmacy/pkg/money"
)

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Input struct {
	Lines    []Line
	Discount decimal.Decimal
	Shipping decimal.Decimal
	// TaxRate is a percentage, 12 means 12%.
	TaxRate decimal.Decimal
}

type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount_amount"`
	Shipping decimal.Decimal `json:"shipping_cost"`
	Taxable  decimal.Decimal `json:"taxable_amount"`
	Tax      decimal.Decimal `json:"tax_amount"`
	Total    decimal.Decimal `json:"total"`
}

// Subtotal sums exact line amounts and rounds once.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return money.Round2(sum)
}

// Calculate returns the full breakdown. Total always equals
// Subtotal - Discount + Shipping + Tax.
func Calculate(in Input) Breakdown {
	subtotal := Subtotal(in.Lines)
	discount := money.Round2(in.Discount)
	shipping := money.Round2(in.Shipping)

	taxable := subtotal.Sub(discount).Add(shipping)
	tax := money.Percent(taxable, in.TaxRate)
	if tax.IsNegative() {
		tax = decimal.Zero
	}

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Taxable:  taxable,
		Tax:      tax,
		Total:    taxable.Add(tax),
	}
}
