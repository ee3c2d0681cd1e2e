package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeTotalsUsesSnapshotPrices(t *testing.T) {
	items := []domain.CartLineItem{
		{ProductID: "a", UnitPriceCents: 1250, Quantity: qty("2")},
		{ProductID: "b", UnitPriceCents: 399, Quantity: qty("3")},
	}
	totals := ComputeTotals(items, qty("0.1"))

	assert.Equal(t, int64(3697), totals.SubtotalCents)
	assert.Equal(t, int64(370), totals.TaxCents)
	assert.Equal(t, totals.SubtotalCents+totals.TaxCents, totals.TotalCents)
	assert.Equal(t, totals.TotalCents, totals.FinalTotalCents)
}

func TestComputeTotalsWeightedQuantity(t *testing.T) {
	items := []domain.CartLineItem{{ProductID: "rice", UnitPriceCents: 1999, Quantity: qty("0.75"), WeightPriced: true}}
	totals := ComputeTotals(items, decimal.Zero)

	// 1999 * 0.75 = 1499.25
	assert.Equal(t, int64(1499), totals.SubtotalCents)
	assert.Equal(t, int64(0), totals.TaxCents)
}

func TestEndToEndPercentageDiscount(t *testing.T) {
	items := []domain.CartLineItem{{ProductID: "tv", UnitPriceCents: 99900, Quantity: qty("1")}}
	totals := Compute(items, qty("0.08"), &domain.Discount{Type: domain.DiscountPercentage, Value: qty("10")})

	assert.Equal(t, int64(99900), totals.SubtotalCents)
	assert.Equal(t, int64(7992), totals.TaxCents)
	assert.Equal(t, int64(107892), totals.TotalCents)
	assert.Equal(t, int64(10789), totals.DiscountCents)
	assert.Equal(t, int64(97103), totals.FinalTotalCents)
}

func TestApplyDiscountNeverNegative(t *testing.T) {
	assert.Equal(t, int64(0), ApplyDiscount(10000, &domain.Discount{Type: domain.DiscountPercentage, Value: qty("150")}))
	assert.Equal(t, int64(0), ApplyDiscount(10000, &domain.Discount{Type: domain.DiscountFixed, Value: qty("25000")}))
	assert.Equal(t, int64(7500), ApplyDiscount(10000, &domain.Discount{Type: domain.DiscountFixed, Value: qty("2500")}))
	assert.Equal(t, int64(10000), ApplyDiscount(10000, nil))
}

func TestComputeDiscountCentsMatchesClampedAmount(t *testing.T) {
	items := []domain.CartLineItem{{ProductID: "a", UnitPriceCents: 1000, Quantity: qty("1")}}
	totals := Compute(items, decimal.Zero, &domain.Discount{Type: domain.DiscountPercentage, Value: qty("150")})

	assert.Equal(t, int64(1000), totals.DiscountCents)
	assert.Equal(t, int64(0), totals.FinalTotalCents)
}

func TestValidateDiscount(t *testing.T) {
	require.NoError(t, ValidateDiscount(domain.Discount{Type: domain.DiscountPercentage, Value: qty("150")}))
	require.NoError(t, ValidateDiscount(domain.Discount{Type: domain.DiscountFixed, Value: qty("0")}))
	assert.ErrorIs(t, ValidateDiscount(domain.Discount{Type: domain.DiscountFixed, Value: qty("-1")}), ErrInvalidDiscount)
	assert.ErrorIs(t, ValidateDiscount(domain.Discount{Type: "bogo", Value: qty("1")}), ErrInvalidDiscount)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$1,078.92", FormatCents(107892, "$"))
	assert.Equal(t, "Rp5.00", FormatCents(500, "Rp"))
	assert.Equal(t, "-$0.07", FormatCents(-7, "$"))
	assert.Equal(t, "$1,234,567.00", FormatCents(123456700, "$"))
}
