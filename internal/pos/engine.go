// Package pos is the transaction engine behind a register: it turns a cart
// snapshot into a persisted sale, parks and recalls carts, and processes
// refunds against completed sales.
package pos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/lock"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type StockPolicy string

const (
	// StockPolicyStrict rejects a checkout when any line exceeds stock.
	StockPolicyStrict StockPolicy = "strict"
	// StockPolicyWarn logs the shortfall and sells anyway, clamping stock at zero.
	StockPolicyWarn StockPolicy = "warn"
)

// ParseStockPolicy maps a configured value to a policy; anything unknown is strict.
func ParseStockPolicy(raw string) StockPolicy {
	if StockPolicy(strings.ToLower(strings.TrimSpace(raw))) == StockPolicyWarn {
		return StockPolicyWarn
	}
	return StockPolicyStrict
}

type SettingsProvider interface {
	TenantSettings(ctx context.Context, tenantID string) (domain.TenantSettings, error)
}

type Options struct {
	Repository  store.Repository
	HeldOrders  store.HeldOrderStore
	Locker      lock.Locker
	Settings    SettingsProvider
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	StockPolicy StockPolicy
	Now         func() time.Time
}

type Engine struct {
	repo     store.Repository
	held     store.HeldOrderStore
	locker   lock.Locker
	settings SettingsProvider
	log      *zap.Logger
	metrics  *metrics.Metrics
	policy   StockPolicy
	now      func() time.Time
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		repo:     opts.Repository,
		held:     opts.HeldOrders,
		locker:   opts.Locker,
		settings: opts.Settings,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		policy:   opts.StockPolicy,
		now:      opts.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.locker == nil {
		e.locker = lock.NewKeyedMutex()
	}
	if e.policy != StockPolicyWarn {
		e.policy = StockPolicyStrict
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.held == nil {
		if held, ok := opts.Repository.(store.HeldOrderStore); ok {
			e.held = held
		}
	}
	return e
}

type CheckoutContext struct {
	TenantID   string
	RegisterID string
	ShiftID    string
	CashierID  string
}

type StockWarning struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

type CheckoutResult struct {
	Sale          domain.Sale    `json:"sale"`
	Receipt       domain.Receipt `json:"receipt"`
	Totals        domain.Totals  `json:"totals"`
	StockWarnings []StockWarning `json:"stock_warnings,omitempty"`
}

// Settings returns the tenant's effective pricing settings.
func (e *Engine) Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	return e.settings.TenantSettings(ctx, tenantID)
}

// PriceCart computes the totals a snapshot would check out at right now.
func (e *Engine) PriceCart(ctx context.Context, tenantID string, snapshot domain.CartSnapshot) (domain.Totals, error) {
	settings, err := e.settings.TenantSettings(ctx, tenantID)
	if err != nil {
		return domain.Totals{}, err
	}
	return pricing.Compute(snapshot.Items, settings.TaxRate, snapshot.Discount), nil
}

// Checkout persists the snapshot as a sale with its receipt. The caller's
// cart is left untouched; clearing it is the register's job.
func (e *Engine) Checkout(ctx context.Context, snapshot domain.CartSnapshot, customerID string, paymentMethod string, cc CheckoutContext) (CheckoutResult, error) {
	if strings.TrimSpace(cc.TenantID) == "" {
		return CheckoutResult{}, invalid("tenant is required")
	}
	if len(snapshot.Items) == 0 {
		e.metrics.CheckoutRejected("empty_cart")
		return CheckoutResult{}, invalid("Cart is empty")
	}
	paymentMethod = strings.ToLower(strings.TrimSpace(paymentMethod))
	if !IsSupportedPaymentMethod(paymentMethod) {
		e.metrics.CheckoutRejected("payment_method")
		return CheckoutResult{}, invalid("unsupported payment method %q", paymentMethod)
	}
	for i, item := range snapshot.Items {
		if strings.TrimSpace(item.ProductID) == "" || !item.Quantity.IsPositive() || item.UnitPriceCents < 0 {
			e.metrics.CheckoutRejected("invalid_line")
			return CheckoutResult{}, invalid("invalid cart line %d", i+1)
		}
	}
	if snapshot.Discount != nil {
		if err := pricing.ValidateDiscount(*snapshot.Discount); err != nil {
			e.metrics.CheckoutRejected("invalid_discount")
			return CheckoutResult{}, invalid("invalid discount")
		}
	}
	if customerID == "" {
		customerID = snapshot.CustomerID
	}

	settings, err := e.settings.TenantSettings(ctx, cc.TenantID)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load tenant settings: %w", err)
	}
	if settings.MaxOrders > 0 {
		count, err := e.repo.CountSales(ctx, cc.TenantID)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("count sales: %w", err)
		}
		if count >= settings.MaxOrders {
			e.metrics.CheckoutRejected("order_limit")
			return CheckoutResult{}, &LimitError{Count: count, Max: settings.MaxOrders}
		}
	}

	required, order := requiredQuantities(snapshot.Items)
	keys := make([]string, 0, len(order))
	for _, productID := range order {
		keys = append(keys, lock.ProductKey(cc.TenantID, productID))
	}
	unlock, err := e.locker.Lock(ctx, keys...)
	if err != nil {
		e.metrics.CheckoutRejected("busy")
		return CheckoutResult{}, err
	}
	defer unlock()

	products, err := e.repo.GetProducts(ctx, cc.TenantID, order)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load products: %w", err)
	}

	names := lineNames(snapshot.Items, products)
	for _, productID := range order {
		if product, ok := products[productID]; !ok || !product.Active {
			e.metrics.CheckoutRejected("unknown_product")
			return CheckoutResult{}, invalid("%s is not available", names[productID])
		}
	}
	for _, item := range snapshot.Items {
		product := products[item.ProductID]
		if err := cart.ValidateQuantity(item.Quantity, product.WeightPriced, product.Increment()); err != nil {
			e.metrics.CheckoutRejected("invalid_line")
			return CheckoutResult{}, invalid("invalid quantity %s for %s", item.Quantity, names[item.ProductID])
		}
	}

	var warnings []StockWarning
	for _, productID := range order {
		product := products[productID]
		qty := required[productID]
		if product.CurrentStock.GreaterThanOrEqual(qty) {
			continue
		}
		warning := StockWarning{
			ProductID: productID,
			Name:      product.Name,
			Requested: qty,
			Available: product.CurrentStock,
		}
		e.metrics.StockWarning()
		e.log.Warn("stock shortfall at checkout",
			zap.String("tenant_id", cc.TenantID),
			zap.String("product_id", productID),
			zap.String("requested", qty.String()),
			zap.String("available", product.CurrentStock.String()),
			zap.String("policy", string(e.policy)),
		)
		if e.policy == StockPolicyStrict {
			e.metrics.CheckoutRejected("insufficient_stock")
			return CheckoutResult{}, &StockError{
				ProductID: productID,
				Name:      product.Name,
				Requested: qty,
				Available: product.CurrentStock,
			}
		}
		warnings = append(warnings, warning)
	}

	lines := make([]domain.SaleLineItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		product := products[item.ProductID]
		name := item.Name
		if name == "" {
			name = product.Name
		}
		lines = append(lines, domain.SaleLineItem{
			ProductID:         item.ProductID,
			Name:              name,
			Quantity:          item.Quantity,
			UnitPriceCents:    item.UnitPriceCents,
			LineSubtotalCents: pricing.LineSubtotal(item.UnitPriceCents, item.Quantity),
			CostPriceCents:    product.CostPriceCents,
		})
	}
	totals := pricing.Compute(snapshot.Items, settings.TaxRate, snapshot.Discount)

	// The store assigns display numbers once the sale is accepted.
	now := e.now()
	sale := domain.Sale{
		ID:              xid.New("sale"),
		TenantID:        cc.TenantID,
		RegisterID:      cc.RegisterID,
		ShiftID:         cc.ShiftID,
		CashierID:       cc.CashierID,
		CustomerID:      customerID,
		Items:           lines,
		SubtotalCents:   totals.SubtotalCents,
		TaxCents:        totals.TaxCents,
		DiscountCents:   totals.DiscountCents,
		GrandTotalCents: totals.FinalTotalCents,
		Discount:        domain.CloneDiscount(snapshot.Discount),
		TaxRate:         settings.TaxRate,
		PaymentMethod:   paymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	receipt := domain.Receipt{
		ID:       xid.New("rcpt"),
		TenantID: cc.TenantID,
	}

	savedSale, savedReceipt, err := e.repo.CreateSale(ctx, sale, receipt, store.SaleOptions{
		MaxOrders:     settings.MaxOrders,
		AllowOversell: e.policy == StockPolicyWarn,
	})
	if err != nil {
		var shortfall *store.ShortfallError
		switch {
		case errors.As(err, &shortfall):
			e.metrics.CheckoutRejected("insufficient_stock")
			return CheckoutResult{}, &StockError{
				ProductID: shortfall.ProductID,
				Name:      names[shortfall.ProductID],
				Requested: required[shortfall.ProductID],
				Available: shortfall.Available,
			}
		case errors.Is(err, store.ErrOrderLimitReached):
			e.metrics.CheckoutRejected("order_limit")
			return CheckoutResult{}, &LimitError{Count: settings.MaxOrders, Max: settings.MaxOrders}
		case errors.Is(err, store.ErrInsufficientStock):
			e.metrics.CheckoutRejected("insufficient_stock")
			return CheckoutResult{}, store.ErrInsufficientStock
		case errors.Is(err, store.ErrNotFound):
			e.metrics.CheckoutRejected("unknown_product")
			return CheckoutResult{}, invalid("cart references a product that no longer exists")
		}
		return CheckoutResult{}, fmt.Errorf("create sale: %w", err)
	}

	e.metrics.CheckoutCompleted(savedSale.GrandTotalCents)
	e.log.Info("sale completed",
		zap.String("tenant_id", savedSale.TenantID),
		zap.String("sale_id", savedSale.ID),
		zap.String("number", savedSale.Number),
		zap.String("register_id", savedSale.RegisterID),
		zap.Int64("grand_total_cents", savedSale.GrandTotalCents),
		zap.Int("lines", len(savedSale.Items)),
	)
	return CheckoutResult{
		Sale:          *savedSale,
		Receipt:       *savedReceipt,
		Totals:        totals,
		StockWarnings: warnings,
	}, nil
}

// lineNames resolves a display name per product for user-facing messages,
// preferring the name captured on the cart line.
func lineNames(items []domain.CartLineItem, products map[string]domain.Product) map[string]string {
	names := make(map[string]string, len(items))
	for _, item := range items {
		if names[item.ProductID] != "" {
			continue
		}
		name := item.Name
		if name == "" {
			name = products[item.ProductID].Name
		}
		if name == "" {
			name = "an item in the cart"
		}
		names[item.ProductID] = name
	}
	return names
}

func (e *Engine) GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	sale, err := e.repo.GetSale(ctx, tenantID, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSaleNotFound
	}
	return sale, err
}

func (e *Engine) GetReceipt(ctx context.Context, tenantID string, saleID string) (*domain.Receipt, error) {
	receipt, err := e.repo.GetReceiptBySale(ctx, tenantID, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSaleNotFound
	}
	return receipt, err
}

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQRIS, domain.PaymentEWallet:
		return true
	default:
		return false
	}
}

// requiredQuantities sums quantities per product and returns the product ids
// in sorted order, which is also the lock acquisition order.
func requiredQuantities(items []domain.CartLineItem) (map[string]decimal.Decimal, []string) {
	required := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		required[item.ProductID] = required[item.ProductID].Add(item.Quantity)
	}
	order := make([]string, 0, len(required))
	for productID := range required {
		order = append(order, productID)
	}
	sort.Strings(order)
	return required, order
}
