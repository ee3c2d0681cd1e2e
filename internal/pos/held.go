package pos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const heldOrderListLimit = 50

// HoldOrder parks a copy of the cart. The caller's cart is not cleared.
func (e *Engine) HoldOrder(ctx context.Context, tenantID string, registerID string, snapshot domain.CartSnapshot, cashierID string, note string) (domain.HeldOrder, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(registerID) == "" {
		return domain.HeldOrder{}, invalid("tenant and register are required")
	}
	if len(snapshot.Items) == 0 {
		return domain.HeldOrder{}, invalid("Cannot hold an empty cart")
	}
	held := domain.HeldOrder{
		ID:         xid.New("hold"),
		TenantID:   tenantID,
		RegisterID: registerID,
		Items:      domain.CloneLineItems(snapshot.Items),
		CustomerID: snapshot.CustomerID,
		Discount:   domain.CloneDiscount(snapshot.Discount),
		CashierID:  cashierID,
		Note:       strings.TrimSpace(note),
		HeldAt:     e.now(),
	}
	saved, err := e.held.CreateHeldOrder(ctx, held)
	if err != nil {
		return domain.HeldOrder{}, fmt.Errorf("hold order: %w", err)
	}
	e.metrics.HeldOrder("hold")
	e.log.Info("order held",
		zap.String("tenant_id", tenantID),
		zap.String("register_id", registerID),
		zap.String("held_order_id", saved.ID),
		zap.Int("lines", len(saved.Items)),
	)
	return *saved, nil
}

// RecallOrder removes the held order and returns it. A held order can be
// recalled once; an unknown or already recalled id yields nil without error.
func (e *Engine) RecallOrder(ctx context.Context, tenantID string, heldOrderID string) (*domain.HeldOrder, error) {
	held, err := e.held.PopHeldOrder(ctx, tenantID, strings.TrimSpace(heldOrderID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recall held order: %w", err)
	}
	e.metrics.HeldOrder("recall")
	e.log.Info("held order recalled",
		zap.String("tenant_id", tenantID),
		zap.String("held_order_id", held.ID),
	)
	return held, nil
}

func (e *Engine) DeleteHeldOrder(ctx context.Context, tenantID string, heldOrderID string) error {
	err := e.held.DeleteHeldOrder(ctx, tenantID, strings.TrimSpace(heldOrderID))
	if errors.Is(err, store.ErrNotFound) {
		return ErrHeldOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("delete held order: %w", err)
	}
	e.metrics.HeldOrder("delete")
	return nil
}

// ListHeldOrders returns the tenant's held orders newest first. An empty
// registerID lists every register.
func (e *Engine) ListHeldOrders(ctx context.Context, tenantID string, registerID string) ([]domain.HeldOrder, error) {
	return e.held.ListHeldOrders(ctx, tenantID, registerID, heldOrderListLimit)
}
