package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestCheckoutAndRefundRoundTripsStock(t *testing.T) {
	databaseURL := os.Getenv("RETAILPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	tenantID := fmt.Sprintf("it-tenant-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM refunds WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id IN (SELECT id FROM sales WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pos_sequences WHERE tenant_id = $1`, tenantID)
	})

	_, err = s.UpsertProduct(ctx, domain.Product{
		TenantID: tenantID, ID: "p1", Name: "Integration Widget", UnitPriceCents: 1200,
		CostPriceCents: 800, CurrentStock: d("10"), Active: true,
	})
	require.NoError(t, err)

	sale := testSale()
	sale.TenantID = tenantID
	saved, _, err := s.CreateSale(ctx, sale, domain.Receipt{Number: "RCP-00000001"}, store.SaleOptions{MaxOrders: 1})
	require.NoError(t, err)

	_, _, err = s.CreateSale(ctx, sale, domain.Receipt{Number: "RCP-00000002"}, store.SaleOptions{MaxOrders: 1})
	assert.ErrorIs(t, err, store.ErrOrderLimitReached)

	product, err := s.GetProduct(ctx, tenantID, "p1")
	require.NoError(t, err)
	assert.True(t, product.CurrentStock.Equal(d("8")))

	_, err = s.CreateRefund(ctx, domain.Refund{
		Number: "REF-000001", TenantID: tenantID, SaleID: saved.ID, ProcessedBy: "admin",
		Items: []domain.RefundLineItem{{ProductID: "p1", Quantity: d("1"), AmountCents: 1000}},
	})
	require.NoError(t, err)

	product, err = s.GetProduct(ctx, tenantID, "p1")
	require.NoError(t, err)
	assert.True(t, product.CurrentStock.Equal(d("9")))
}
