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
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type RefundItem struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type RefundRequest struct {
	TenantID    string
	SaleID      string
	Items       []RefundItem
	Reason      string
	ProcessedBy string
}

// Refund reverses part or all of a sale. Amounts come from the sale-time unit
// price and the refunded quantities go back to stock in the same unit of work
// that records the refund. Cumulative refunds per product are capped at the
// quantity sold.
func (e *Engine) Refund(ctx context.Context, req RefundRequest) (domain.Refund, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	if strings.TrimSpace(req.TenantID) == "" || req.SaleID == "" {
		e.metrics.RefundRejected("validation")
		return domain.Refund{}, invalid("sale is required")
	}
	if len(req.Items) == 0 {
		e.metrics.RefundRejected("validation")
		return domain.Refund{}, invalid("refund has no items")
	}

	items := make([]RefundItem, 0, len(req.Items))
	requested := make(map[string]decimal.Decimal, len(req.Items))
	for i, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || !item.Quantity.IsPositive() {
			e.metrics.RefundRejected("validation")
			return domain.Refund{}, invalid("invalid refund line %d", i+1)
		}
		items = append(items, RefundItem{ProductID: productID, Quantity: item.Quantity})
		requested[productID] = requested[productID].Add(item.Quantity)
	}

	sale, err := e.repo.GetSale(ctx, req.TenantID, req.SaleID)
	if errors.Is(err, store.ErrNotFound) {
		e.metrics.RefundRejected("sale_not_found")
		return domain.Refund{}, ErrSaleNotFound
	}
	if err != nil {
		return domain.Refund{}, fmt.Errorf("load sale: %w", err)
	}
	earlier, err := e.repo.ListRefundsBySale(ctx, req.TenantID, sale.ID)
	if err != nil {
		return domain.Refund{}, fmt.Errorf("load refunds: %w", err)
	}

	sold := store.SoldQuantities(*sale)
	refunded := store.RefundedQuantities(earlier)
	unitPrices := make(map[string]int64, len(sale.Items))
	names := make(map[string]string, len(sale.Items))
	for _, line := range sale.Items {
		if _, seen := unitPrices[line.ProductID]; !seen {
			unitPrices[line.ProductID] = line.UnitPriceCents
			names[line.ProductID] = line.Name
		}
	}

	order := make([]string, 0, len(requested))
	for productID := range requested {
		if _, ok := sold[productID]; !ok {
			e.metrics.RefundRejected("validation")
			return domain.Refund{}, invalid("refund includes an item that is not on this sale")
		}
		order = append(order, productID)
	}
	sort.Strings(order)

	products, err := e.repo.GetProducts(ctx, req.TenantID, order)
	if err != nil {
		return domain.Refund{}, fmt.Errorf("load products: %w", err)
	}
	for _, item := range items {
		if err := validateRefundQuantity(item.Quantity, products[item.ProductID], sold[item.ProductID].Sold); err != nil {
			e.metrics.RefundRejected("validation")
			return domain.Refund{}, invalid("invalid refund quantity %s for %s", item.Quantity, names[item.ProductID])
		}
	}

	refund := domain.Refund{
		ID:          xid.New("refund"),
		TenantID:    req.TenantID,
		SaleID:      sale.ID,
		Items:       make([]domain.RefundLineItem, 0, len(order)),
		Reason:      strings.TrimSpace(req.Reason),
		ProcessedBy: req.ProcessedBy,
		CreatedAt:   e.now(),
	}
	keys := make([]string, 0, len(order))
	for _, productID := range order {
		qty := requested[productID]
		remaining := sold[productID].Sold.Sub(refunded[productID].Refunded)
		if qty.GreaterThan(remaining) {
			e.metrics.RefundRejected("exceeds_sold")
			return domain.Refund{}, invalid("refund quantity for %s exceeds refundable %s", names[productID], remaining)
		}
		amount := pricing.LineSubtotal(unitPrices[productID], qty)
		refund.Items = append(refund.Items, domain.RefundLineItem{
			ProductID:   productID,
			Quantity:    qty,
			AmountCents: amount,
		})
		refund.TotalCents += amount
		keys = append(keys, lock.ProductKey(req.TenantID, productID))
	}

	unlock, err := e.locker.Lock(ctx, keys...)
	if err != nil {
		e.metrics.RefundRejected("busy")
		return domain.Refund{}, err
	}
	defer unlock()

	saved, err := e.repo.CreateRefund(ctx, refund)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			e.metrics.RefundRejected("sale_not_found")
			return domain.Refund{}, ErrSaleNotFound
		case errors.Is(err, store.ErrInvalidTransaction):
			// Another refund against the same sale landed first.
			e.metrics.RefundRejected("exceeds_sold")
			return domain.Refund{}, invalid("refund exceeds the quantity still refundable")
		}
		return domain.Refund{}, fmt.Errorf("create refund: %w", err)
	}

	e.metrics.RefundCompleted(saved.TotalCents)
	e.log.Info("refund completed",
		zap.String("tenant_id", saved.TenantID),
		zap.String("refund_id", saved.ID),
		zap.String("number", saved.Number),
		zap.String("sale_id", saved.SaleID),
		zap.Int64("total_cents", saved.TotalCents),
	)
	return *saved, nil
}

// validateRefundQuantity applies the product's selling unit to a refund line.
// A product gone from the catalog keeps whatever unit it was sold in:
// fractional sales allow fractional refunds.
func validateRefundQuantity(qty decimal.Decimal, product domain.Product, sold decimal.Decimal) error {
	if product.ID == "" {
		return cart.ValidateQuantity(qty, !sold.IsInteger(), decimal.Zero)
	}
	return cart.ValidateQuantity(qty, product.WeightPriced, product.Increment())
}

// RefundSummary reports, per product on the sale, how much was sold, how much
// has been refunded so far and what can still be refunded.
func (e *Engine) RefundSummary(ctx context.Context, tenantID string, saleID string) (domain.SaleRefundSummary, error) {
	sale, err := e.GetSale(ctx, tenantID, saleID)
	if err != nil {
		return domain.SaleRefundSummary{}, err
	}
	refunds, err := e.repo.ListRefundsBySale(ctx, tenantID, sale.ID)
	if err != nil {
		return domain.SaleRefundSummary{}, fmt.Errorf("load refunds: %w", err)
	}

	sold := store.SoldQuantities(*sale)
	refunded := store.RefundedQuantities(refunds)
	summary := domain.SaleRefundSummary{
		SaleID:        sale.ID,
		Refunds:       refunds,
		Lines:         make([]domain.RefundSummaryLine, 0, len(sold)),
		FullyRefunded: true,
	}
	seen := make(map[string]bool, len(sold))
	for _, item := range sale.Items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		line := sold[item.ProductID]
		back := refunded[item.ProductID]
		line.Refunded = back.Refunded
		line.AmountCents = back.AmountCents
		line.Refundable = decimal.Max(decimal.Zero, line.Sold.Sub(back.Refunded))
		if line.Refundable.IsPositive() {
			summary.FullyRefunded = false
		}
		summary.Lines = append(summary.Lines, line)
	}
	for _, refund := range refunds {
		summary.RefundedTotalCents += refund.TotalCents
	}
	return summary, nil
}
