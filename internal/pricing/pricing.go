// Package pricing computes cart totals in integer minor units. Fractional
// intermediate values (weighted quantities, tax, percentage discounts) are
// rounded half away from zero to whole cents.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

var ErrInvalidDiscount = errors.New("invalid discount")

var hundred = decimal.NewFromInt(100)

func LineSubtotal(unitPriceCents int64, qty decimal.Decimal) int64 {
	return toCents(decimal.NewFromInt(unitPriceCents).Mul(qty))
}

// ComputeTotals prices the line items with their snapshotted unit prices.
// Discount fields are left zero; see Compute.
func ComputeTotals(items []domain.CartLineItem, taxRate decimal.Decimal) domain.Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += LineSubtotal(item.UnitPriceCents, item.Quantity)
	}
	tax := toCents(decimal.NewFromInt(subtotal).Mul(taxRate))
	total := subtotal + tax
	return domain.Totals{
		SubtotalCents:   subtotal,
		TaxCents:        tax,
		TotalCents:      total,
		FinalTotalCents: total,
	}
}

// DiscountAmount is the amount a discount takes off the tax-inclusive total.
// Percentage values are percent of the total, fixed values are cents.
func DiscountAmount(totalCents int64, d *domain.Discount) int64 {
	if d == nil || !d.Value.IsPositive() {
		return 0
	}
	switch d.Type {
	case domain.DiscountPercentage:
		return toCents(decimal.NewFromInt(totalCents).Mul(d.Value).Div(hundred))
	case domain.DiscountFixed:
		return toCents(d.Value)
	default:
		return 0
	}
}

func ApplyDiscount(totalCents int64, d *domain.Discount) int64 {
	final := totalCents - DiscountAmount(totalCents, d)
	if final < 0 {
		return 0
	}
	return final
}

func Compute(items []domain.CartLineItem, taxRate decimal.Decimal, d *domain.Discount) domain.Totals {
	totals := ComputeTotals(items, taxRate)
	totals.FinalTotalCents = ApplyDiscount(totals.TotalCents, d)
	totals.DiscountCents = totals.TotalCents - totals.FinalTotalCents
	return totals
}

func ValidateDiscount(d domain.Discount) error {
	if d.Type != domain.DiscountPercentage && d.Type != domain.DiscountFixed {
		return fmt.Errorf("%w: type must be percentage or fixed", ErrInvalidDiscount)
	}
	if d.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidDiscount)
	}
	return nil
}

// FormatCents renders cents as a display amount, e.g. "$1,078.92".
func FormatCents(cents int64, symbol string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprintf("%d", cents/100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s%s.%02d", sign, symbol, b.String(), cents%100)
}

func toCents(v decimal.Decimal) int64 {
	return v.Round(0).IntPart()
}
