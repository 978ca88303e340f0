package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate_TaxOnDiscountedShippedAmount(t *testing.T) {
	b := Calculate(Input{
		Lines:    []Line{{UnitPrice: d("500"), Quantity: 2}},
		Discount: d("100"),
		Shipping: d("50"),
		TaxRate:  d("12"),
	})

	assert.Equal(t, "1000.00", b.Subtotal.StringFixed(2))
	assert.Equal(t, "950.00", b.Taxable.StringFixed(2))
	assert.Equal(t, "114.00", b.Tax.StringFixed(2))
	assert.Equal(t, "1064.00", b.Total.StringFixed(2))
}

func TestSubtotal_RoundsOnce(t *testing.T) {
	// 3 x 0.335 = 1.005 -> 1.01; rounding each line first would give 1.02.
	got := Subtotal([]Line{
		{UnitPrice: d("0.335"), Quantity: 1},
		{UnitPrice: d("0.335"), Quantity: 1},
		{UnitPrice: d("0.335"), Quantity: 1},
	})
	assert.Equal(t, "1.01", got.StringFixed(2))
}

func TestCalculate_TotalIdentity(t *testing.T) {
	cases := []Input{
		{Lines: []Line{{d("19.99"), 3}, {d("4.25"), 7}}, Discount: d("5.55"), Shipping: d("150"), TaxRate: d("12")},
		{Lines: []Line{{d("0.01"), 1}}, Discount: d("0.01"), Shipping: d("0"), TaxRate: d("7.25")},
		{Lines: []Line{{d("1234.56"), 9}}, Discount: d("0"), Shipping: d("49.5"), TaxRate: d("0")},
		{Lines: []Line{{d("33.33"), 3}}, Discount: d("99.99"), Shipping: d("0"), TaxRate: d("12.5")},
	}
	for _, in := range cases {
		b := Calculate(in)
		want := b.Subtotal.Sub(b.Discount).Add(b.Shipping).Add(b.Tax)
		assert.True(t, want.Equal(b.Total), "total %s != %s", b.Total, want)
		assert.False(t, b.Total.IsNegative())
		assert.True(t, b.Tax.Equal(b.Tax.Round(2)))
	}
}
