package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pos"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("admin role required")
	ErrCartNotEmpty    = errors.New("register cart is not empty")
	ErrProductNotFound = pos.ErrProductNotFound
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// SettingsInvalidator drops cached tenant settings after an update.
type SettingsInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type sessionKey struct {
	tenantID   string
	registerID string
}

// session serializes the commands of one register; the cart it owns is never
// shared with another register.
type session struct {
	mu   sync.Mutex
	cart *cart.Cart
}

type Service struct {
	repo     store.Repository
	engine   *pos.Engine
	settings SettingsInvalidator
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

func New(repo store.Repository, engine *pos.Engine, settings SettingsInvalidator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		settings: settings,
		log:      log,
		sessions: make(map[sessionKey]*session),
	}
}

type CartView struct {
	RegisterID string                `json:"register_id"`
	Items      []domain.CartLineItem `json:"items"`
	CustomerID string                `json:"customer_id,omitempty"`
	Discount   *domain.Discount      `json:"discount,omitempty"`
	Totals     domain.Totals         `json:"totals"`
	ItemCount  int                   `json:"item_count"`
}

type CheckoutRequest struct {
	PaymentMethod string
	ShiftID       string
	CustomerID    string
}

type RefundRequest struct {
	SaleID string
	Items  []pos.RefundItem
	Reason string
}

type SaleDetail struct {
	Sale    domain.Sale    `json:"sale"`
	Receipt domain.Receipt `json:"receipt"`
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.TenantID)
}

// SaveProduct creates or replaces a product in the admin's tenant.
func (s *Service) SaveProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product.TenantID = actor.TenantID
	saved, err := s.engine.SaveProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, actor, "product_upsert", "product", saved.ID,
		fmt.Sprintf("price=%d,stock=%s,active=%t", saved.UnitPriceCents, saved.CurrentStock, saved.Active))
	return *saved, nil
}

// AdjustStock moves a product's on-hand stock by delta, for receiving goods
// or writing off shrinkage.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta decimal.Decimal, reason string) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	updated, err := s.engine.AdjustStock(ctx, actor.TenantID, []domain.StockAdjustment{{ProductID: productID, Delta: delta}})
	if err != nil {
		return domain.Product{}, err
	}
	product := updated[0]
	s.logAudit(ctx, actor, "stock_adjust", "product", product.ID,
		fmt.Sprintf("delta=%s,stock=%s,reason=%s", delta, product.CurrentStock, strings.TrimSpace(reason)))
	return product, nil
}

func (s *Service) GetCart(ctx context.Context, registerID string) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(ctx, actor, registerID, sess.cart)
}

// AddToCart adds qty of a catalog product, or one increment when qty is zero.
func (s *Service) AddToCart(ctx context.Context, registerID string, productID string, qty decimal.Decimal) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.TenantID, strings.TrimSpace(productID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !product.Active) {
		return CartView{}, ErrProductNotFound
	}
	if err != nil {
		return CartView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.cart.Add(*product, qty); err != nil {
		return CartView{}, err
	}
	return s.view(ctx, actor, registerID, sess.cart)
}

// UpdateCartQuantity changes a line by delta against the product's live stock.
func (s *Service) UpdateCartQuantity(ctx context.Context, registerID string, productID string, delta decimal.Decimal) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	productID = strings.TrimSpace(productID)
	stock := decimal.Zero
	product, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
	switch {
	case err == nil:
		stock = product.CurrentStock
	case !errors.Is(err, store.ErrNotFound):
		return CartView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.cart.UpdateQuantity(productID, delta, stock); err != nil {
		return CartView{}, err
	}
	return s.view(ctx, actor, registerID, sess.cart)
}

func (s *Service) RemoveCartItem(ctx context.Context, registerID string, productID string) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.Remove(strings.TrimSpace(productID))
	return s.view(ctx, actor, registerID, sess.cart)
}

func (s *Service) ClearCart(ctx context.Context, registerID string) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.Clear()
	return s.view(ctx, actor, registerID, sess.cart)
}

func (s *Service) SetCartCustomer(ctx context.Context, registerID string, customerID string) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.SetCustomer(strings.TrimSpace(customerID))
	return s.view(ctx, actor, registerID, sess.cart)
}

// SetCartDiscount replaces the cart discount; nil removes it.
func (s *Service) SetCartDiscount(ctx context.Context, registerID string, discount *domain.Discount) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.cart.SetDiscount(discount); err != nil {
		return CartView{}, err
	}
	return s.view(ctx, actor, registerID, sess.cart)
}

// CheckoutCart completes the register's cart as a sale and empties the cart.
// On failure the cart is kept so the cashier can correct it.
func (s *Service) CheckoutCart(ctx context.Context, registerID string, req CheckoutRequest) (pos.CheckoutResult, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return pos.CheckoutResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	result, err := s.engine.Checkout(ctx, sess.cart.Snapshot(), strings.TrimSpace(req.CustomerID), req.PaymentMethod, pos.CheckoutContext{
		TenantID:   actor.TenantID,
		RegisterID: registerID,
		ShiftID:    strings.TrimSpace(req.ShiftID),
		CashierID:  actor.UserID,
	})
	if err != nil {
		return pos.CheckoutResult{}, err
	}
	sess.cart.Clear()

	s.logAudit(ctx, actor, "sale_create", "sale", result.Sale.ID,
		fmt.Sprintf("number=%s,total=%d,method=%s", result.Sale.Number, result.Sale.GrandTotalCents, result.Sale.PaymentMethod))
	for _, warning := range result.StockWarnings {
		s.logAudit(ctx, actor, "stock_oversell", "product", warning.ProductID,
			fmt.Sprintf("requested=%s,available=%s", warning.Requested, warning.Available))
	}
	return result, nil
}

// HoldCart parks the register's cart and empties it.
func (s *Service) HoldCart(ctx context.Context, registerID string, note string) (domain.HeldOrder, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return domain.HeldOrder{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	held, err := s.engine.HoldOrder(ctx, actor.TenantID, registerID, sess.cart.Snapshot(), actor.UserID, note)
	if err != nil {
		return domain.HeldOrder{}, err
	}
	sess.cart.Clear()
	s.logAudit(ctx, actor, "cart_hold", "held_order", held.ID, fmt.Sprintf("items=%d", len(held.Items)))
	return held, nil
}

// RecallHeldOrder restores a held order into the register's cart. The live
// cart must be empty so nothing in it is silently discarded.
func (s *Service) RecallHeldOrder(ctx context.Context, registerID string, heldOrderID string) (CartView, error) {
	actor, sess, err := s.session(ctx, registerID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() > 0 {
		return CartView{}, ErrCartNotEmpty
	}
	held, err := s.engine.RecallOrder(ctx, actor.TenantID, heldOrderID)
	if err != nil {
		return CartView{}, err
	}
	if held == nil {
		return CartView{}, pos.ErrHeldOrderNotFound
	}
	sess.cart.Restore(held.Snapshot())
	s.logAudit(ctx, actor, "cart_recall", "held_order", held.ID,
		fmt.Sprintf("items=%d,from_register=%s", len(held.Items), held.RegisterID))
	return s.view(ctx, actor, registerID, sess.cart)
}

func (s *Service) DeleteHeldOrder(ctx context.Context, heldOrderID string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteHeldOrder(ctx, actor.TenantID, heldOrderID); err != nil {
		return err
	}
	s.logAudit(ctx, actor, "cart_discard", "held_order", strings.TrimSpace(heldOrderID), "discarded")
	return nil
}

func (s *Service) ListHeldOrders(ctx context.Context, registerID string) ([]domain.HeldOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.ListHeldOrders(ctx, actor.TenantID, strings.TrimSpace(registerID))
}

func (s *Service) Refund(ctx context.Context, req RefundRequest) (domain.Refund, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Refund{}, err
	}
	refund, err := s.engine.Refund(ctx, pos.RefundRequest{
		TenantID:    actor.TenantID,
		SaleID:      req.SaleID,
		Items:       req.Items,
		Reason:      req.Reason,
		ProcessedBy: actor.UserID,
	})
	if err != nil {
		return domain.Refund{}, err
	}
	s.logAudit(ctx, actor, "sale_refund", "sale", refund.SaleID,
		fmt.Sprintf("refund=%s,amount=%d,reason=%s", refund.Number, refund.TotalCents, refund.Reason))
	return refund, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (SaleDetail, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return SaleDetail{}, err
	}
	saleID = strings.TrimSpace(saleID)
	sale, err := s.engine.GetSale(ctx, actor.TenantID, saleID)
	if err != nil {
		return SaleDetail{}, err
	}
	receipt, err := s.engine.GetReceipt(ctx, actor.TenantID, saleID)
	if err != nil {
		return SaleDetail{}, err
	}
	return SaleDetail{Sale: *sale, Receipt: *receipt}, nil
}

func (s *Service) GetSaleRefunds(ctx context.Context, saleID string) (domain.SaleRefundSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleRefundSummary{}, err
	}
	return s.engine.RefundSummary(ctx, actor.TenantID, strings.TrimSpace(saleID))
}

func (s *Service) PrintReceipt(ctx context.Context, saleID string) (pos.RenderedReceipt, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return pos.RenderedReceipt{}, err
	}
	return s.engine.PrintReceipt(ctx, actor.TenantID, strings.TrimSpace(saleID))
}

func (s *Service) GetSettings(ctx context.Context) (domain.TenantSettings, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TenantSettings{}, err
	}
	return s.engine.Settings(ctx, actor.TenantID)
}

// UpdateSettings stores the tenant's tax rate, order quota and currency symbol.
func (s *Service) UpdateSettings(ctx context.Context, settings domain.TenantSettings) (domain.TenantSettings, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.TenantSettings{}, err
	}
	settings.TenantID = actor.TenantID
	settings.CurrencySymbol = strings.TrimSpace(settings.CurrencySymbol)
	if settings.TaxRate.IsNegative() || settings.TaxRate.GreaterThan(decimal.NewFromInt(1)) || settings.MaxOrders < 0 {
		return domain.TenantSettings{}, &pos.ValidationError{Reason: "tax rate must be between 0 and 1 and max orders must not be negative"}
	}
	if err := s.repo.UpsertTenantSettings(ctx, settings); err != nil {
		return domain.TenantSettings{}, err
	}
	if s.settings != nil {
		if err := s.settings.Invalidate(ctx, actor.TenantID); err != nil {
			s.log.Warn("settings cache invalidation failed", zap.String("tenant_id", actor.TenantID), zap.Error(err))
		}
	}
	s.logAudit(ctx, actor, "settings_update", "tenant", actor.TenantID,
		fmt.Sprintf("tax_rate=%s,max_orders=%d", settings.TaxRate, settings.MaxOrders))
	return settings, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, actor.TenantID, limit)
}

func (s *Service) session(ctx context.Context, registerID string) (domain.Actor, *session, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, nil, err
	}
	registerID = strings.TrimSpace(registerID)
	if registerID == "" {
		return domain.Actor{}, nil, &pos.ValidationError{Reason: "register_id is required"}
	}

	key := sessionKey{tenantID: actor.TenantID, registerID: registerID}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{cart: cart.New()}
		s.sessions[key] = sess
	}
	return actor, sess, nil
}

func (s *Service) view(ctx context.Context, actor domain.Actor, registerID string, c *cart.Cart) (CartView, error) {
	snapshot := c.Snapshot()
	totals, err := s.engine.PriceCart(ctx, actor.TenantID, snapshot)
	if err != nil {
		return CartView{}, err
	}
	if snapshot.Items == nil {
		snapshot.Items = []domain.CartLineItem{}
	}
	return CartView{
		RegisterID: registerID,
		Items:      snapshot.Items,
		CustomerID: snapshot.CustomerID,
		Discount:   snapshot.Discount,
		Totals:     totals,
		ItemCount:  len(snapshot.Items),
	}, nil
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		TenantID:   actor.TenantID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.TenantID) == "" || strings.TrimSpace(actor.UserID) == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}
