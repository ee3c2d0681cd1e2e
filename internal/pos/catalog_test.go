package pos

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestAdjustStockReceivesAndWritesOff(t *testing.T) {
	f := newFixture(t, StockPolicyStrict, 0)
	ctx := context.Background()

	updated, err := f.engine.AdjustStock(ctx, testTenant, []domain.StockAdjustment{
		{ProductID: "prd-c", Delta: d("5")},
		{ProductID: "prd-a", Delta: d("-2")},
		{ProductID: "prd-c", Delta: d("-1")},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, "prd-a", updated[0].ID)
	assert.True(t, f.stock(t, "prd-a").Equal(d("8")))
	assert.True(t, f.stock(t, "prd-c").Equal(d("5")))
}

func TestAdjustStockRejections(t *testing.T) {
	f := newFixture(t, StockPolicyStrict, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		adj  []domain.StockAdjustment
		want error
	}{
		{name: "empty", want: ErrValidation},
		{name: "zero delta", adj: []domain.StockAdjustment{{ProductID: "prd-a", Delta: d("0")}}, want: ErrValidation},
		{name: "fractional counted", adj: []domain.StockAdjustment{{ProductID: "prd-a", Delta: d("0.5")}}, want: ErrValidation},
		{name: "unknown product", adj: []domain.StockAdjustment{{ProductID: "prd-x", Delta: d("1")}}, want: ErrProductNotFound},
		{name: "below zero", adj: []domain.StockAdjustment{{ProductID: "prd-c", Delta: d("-2")}}, want: store.ErrInsufficientStock},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.AdjustStock(ctx, testTenant, tc.adj)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.True(t, f.stock(t, "prd-a").Equal(d("10")))
	assert.True(t, f.stock(t, "prd-c").Equal(d("1")))
}

func TestAdjustStockShortfallNamesProduct(t *testing.T) {
	f := newFixture(t, StockPolicyStrict, 0)

	_, err := f.engine.AdjustStock(context.Background(), testTenant, []domain.StockAdjustment{{ProductID: "prd-c", Delta: d("-3")}})
	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Last One", stockErr.Name)
	assert.True(t, stockErr.Requested.Equal(d("3")))
	assert.True(t, stockErr.Available.Equal(d("1")))
}

func TestSaveProductCreatesAndReplaces(t *testing.T) {
	f := newFixture(t, StockPolicyStrict, 0)
	ctx := context.Background()

	created, err := f.engine.SaveProduct(ctx, domain.Product{
		TenantID: testTenant, Name: " Tea ", UnitPriceCents: 250, CurrentStock: d("12"), Active: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Tea", created.Name)
	assert.True(t, created.QtyIncrement.Equal(d("1")))

	created.UnitPriceCents = 300
	replaced, err := f.engine.SaveProduct(ctx, *created)
	require.NoError(t, err)
	assert.Equal(t, created.ID, replaced.ID)

	stored, err := f.repo.GetProduct(ctx, testTenant, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), stored.UnitPriceCents)
}

func TestSaveProductValidation(t *testing.T) {
	f := newFixture(t, StockPolicyStrict, 0)

	for name, product := range map[string]domain.Product{
		"no name":            {TenantID: testTenant, UnitPriceCents: 100},
		"negative price":     {TenantID: testTenant, Name: "Tea", UnitPriceCents: -1},
		"negative stock":     {TenantID: testTenant, Name: "Tea", CurrentStock: d("-1")},
		"fractional counted": {TenantID: testTenant, Name: "Tea", CurrentStock: d("1.5")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.SaveProduct(context.Background(), product)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}
