package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(id string, price int64, stock string) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           "Product " + id,
		UnitPriceCents: price,
		CurrentStock:   d(stock),
		Active:         true,
	}
}

func TestAddInsertsSnapshotThenIncrements(t *testing.T) {
	c := New()
	p := product("a", 500, "3")

	require.NoError(t, c.Add(p, decimal.Zero))
	p.UnitPriceCents = 900
	p.Name = "Renamed"
	require.NoError(t, c.Add(p, decimal.Zero))

	items := c.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Quantity.Equal(d("2")))
	assert.Equal(t, int64(500), items[0].UnitPriceCents)
	assert.Equal(t, "Product a", items[0].Name)
}

func TestAddRejectsBeyondStock(t *testing.T) {
	c := New()
	p := product("a", 500, "1")

	require.NoError(t, c.Add(p, decimal.Zero))
	err := c.Add(p, decimal.Zero)
	assert.ErrorIs(t, err, ErrExceedsStock)
	assert.True(t, quantityOf(c, "a").Equal(d("1")))
}

func TestAddWeightPricedUsesIncrement(t *testing.T) {
	c := New()
	p := product("rice", 1999, "2")
	p.WeightPriced = true
	p.QtyIncrement = d("0.25")

	require.NoError(t, c.Add(p, decimal.Zero))
	require.NoError(t, c.Add(p, d("0.5")))
	assert.True(t, quantityOf(c, "rice").Equal(d("0.75")))

	assert.ErrorIs(t, c.Add(p, d("0.1")), ErrInvalidQuantity)
}

func TestAddRejectsFractionalCountedItem(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.Add(product("a", 100, "5"), d("1.5")), ErrInvalidQuantity)
	assert.Equal(t, 0, c.Len())
}

func TestUpdateQuantityRemovesAtZeroOrBelow(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("a", 100, "5"), d("2")))

	require.NoError(t, c.UpdateQuantity("a", d("-5"), d("5")))
	assert.Equal(t, 0, c.Len())
	for _, item := range c.Items() {
		assert.True(t, item.Quantity.IsPositive())
	}
}

func TestUpdateQuantityRejectsBeyondStockKeepsPrevious(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("a", 100, "5"), d("2")))

	err := c.UpdateQuantity("a", d("2"), d("3"))
	assert.ErrorIs(t, err, ErrExceedsStock)
	assert.True(t, quantityOf(c, "a").Equal(d("2")))

	require.NoError(t, c.UpdateQuantity("a", d("1"), d("3")))
	assert.True(t, quantityOf(c, "a").Equal(d("3")))
}

func TestUpdateQuantityUnknownItem(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.UpdateQuantity("missing", d("1"), d("10")), ErrItemNotFound)
	assert.ErrorIs(t, c.UpdateQuantity("missing", decimal.Zero, d("10")), ErrInvalidQuantity)
}

func TestRemoveAndClear(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("a", 100, "5"), decimal.Zero))
	require.NoError(t, c.Add(product("b", 200, "5"), decimal.Zero))
	c.SetCustomer("cust-1")
	require.NoError(t, c.SetDiscount(&domain.Discount{Type: domain.DiscountFixed, Value: d("50")}))

	c.Remove("a")
	c.Remove("a")
	assert.Equal(t, 1, c.Len())

	c.Clear()
	snap := c.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.CustomerID)
	assert.Nil(t, snap.Discount)
}

func TestSetDiscountValidates(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.SetDiscount(&domain.Discount{Type: domain.DiscountPercentage, Value: d("-5")}), ErrInvalidDiscount)
	require.NoError(t, c.SetDiscount(&domain.Discount{Type: domain.DiscountPercentage, Value: d("150")}))
	require.NoError(t, c.SetDiscount(nil))
	assert.Nil(t, c.Snapshot().Discount)
}

func TestSnapshotIsDetachedAndRestoreRoundTrips(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(product("a", 100, "5"), d("2")))
	c.SetCustomer("cust-1")
	require.NoError(t, c.SetDiscount(&domain.Discount{Type: domain.DiscountPercentage, Value: d("10")}))

	snap := c.Snapshot()
	snap.Items[0].Quantity = d("99")
	snap.Discount.Value = d("99")
	assert.True(t, quantityOf(c, "a").Equal(d("2")))

	original := c.Snapshot()
	c.Clear()
	c.Restore(original)
	assert.Equal(t, original, c.Snapshot())
}

func quantityOf(c *Cart, productID string) decimal.Decimal {
	for _, item := range c.Items() {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return decimal.Zero
}
