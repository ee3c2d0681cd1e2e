package pos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/lock"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// SaveProduct creates or replaces a catalog entry. It holds the product lock
// so a concurrent checkout never interleaves with the stock it writes.
func (e *Engine) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	switch {
	case strings.TrimSpace(product.TenantID) == "":
		return nil, invalid("tenant is required")
	case product.Name == "":
		return nil, invalid("product name is required")
	case product.UnitPriceCents < 0 || product.CostPriceCents < 0:
		return nil, invalid("prices must not be negative")
	case product.CurrentStock.IsNegative() || product.MinStock.IsNegative():
		return nil, invalid("stock levels must not be negative")
	case product.WeightPriced && product.QtyIncrement.IsNegative():
		return nil, invalid("quantity increment must be positive")
	case !product.WeightPriced && !product.CurrentStock.IsInteger():
		return nil, invalid("stock of %s must be a whole number", product.Name)
	}
	if !product.WeightPriced {
		product.QtyIncrement = decimal.NewFromInt(1)
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}

	unlock, err := e.locker.Lock(ctx, lock.ProductKey(product.TenantID, product.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	saved, err := e.repo.UpsertProduct(ctx, product)
	if errors.Is(err, store.ErrInvalidTransaction) {
		return nil, invalid("invalid product")
	}
	if err != nil {
		return nil, fmt.Errorf("save product: %w", err)
	}
	e.log.Info("product saved",
		zap.String("tenant_id", saved.TenantID),
		zap.String("product_id", saved.ID),
		zap.String("stock", saved.CurrentStock.String()),
	)
	return saved, nil
}

// AdjustStock applies signed deltas to on-hand stock under the same product
// locks checkout and refund take. Counted products move in whole units and
// no adjustment may leave stock below zero.
func (e *Engine) AdjustStock(ctx context.Context, tenantID string, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid("tenant is required")
	}
	if len(adjustments) == 0 {
		return nil, invalid("no stock adjustments")
	}
	deltas := make(map[string]decimal.Decimal, len(adjustments))
	for i, adj := range adjustments {
		productID := strings.TrimSpace(adj.ProductID)
		if productID == "" || adj.Delta.IsZero() {
			return nil, invalid("invalid stock adjustment %d", i+1)
		}
		deltas[productID] = deltas[productID].Add(adj.Delta)
	}
	order := make([]string, 0, len(deltas))
	keys := make([]string, 0, len(deltas))
	for productID := range deltas {
		order = append(order, productID)
	}
	sort.Strings(order)
	for _, productID := range order {
		keys = append(keys, lock.ProductKey(tenantID, productID))
	}

	unlock, err := e.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	products, err := e.repo.GetProducts(ctx, tenantID, order)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	merged := make([]domain.StockAdjustment, 0, len(order))
	for _, productID := range order {
		product, ok := products[productID]
		if !ok {
			return nil, ErrProductNotFound
		}
		delta := deltas[productID]
		if delta.IsZero() {
			continue
		}
		if err := cart.ValidateQuantity(delta.Abs(), product.WeightPriced, product.Increment()); err != nil {
			return nil, invalid("invalid stock change %s for %s", delta, product.Name)
		}
		merged = append(merged, domain.StockAdjustment{ProductID: productID, Delta: delta})
	}

	var shortfall *store.ShortfallError
	err = e.repo.AdjustStock(ctx, tenantID, merged)
	switch {
	case errors.As(err, &shortfall):
		product := products[shortfall.ProductID]
		return nil, &StockError{
			ProductID: shortfall.ProductID,
			Name:      product.Name,
			Requested: deltas[shortfall.ProductID].Neg(),
			Available: shortfall.Available,
		}
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrProductNotFound
	case err != nil:
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	updated, err := e.repo.GetProducts(ctx, tenantID, order)
	if err != nil {
		return nil, fmt.Errorf("reload products: %w", err)
	}
	result := make([]domain.Product, 0, len(order))
	for _, productID := range order {
		result = append(result, updated[productID])
		e.log.Info("stock adjusted",
			zap.String("tenant_id", tenantID),
			zap.String("product_id", productID),
			zap.String("delta", deltas[productID].String()),
			zap.String("stock", updated[productID].CurrentStock.String()),
		)
	}
	return result, nil
}
