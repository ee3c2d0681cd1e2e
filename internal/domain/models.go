package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Name           string          `json:"name"`
	ImageURL       string          `json:"image_url,omitempty"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	CostPriceCents int64           `json:"cost_price_cents"`
	CurrentStock   decimal.Decimal `json:"current_stock"`
	MinStock       decimal.Decimal `json:"min_stock"`
	WeightPriced   bool            `json:"weight_priced"`
	QtyIncrement   decimal.Decimal `json:"qty_increment"`
	Active         bool            `json:"active"`
}

// StockStatus derives the catalog status from the current stock and threshold.
func (p Product) StockStatus() string {
	switch {
	case !p.CurrentStock.IsPositive():
		return StockStatusOut
	case p.CurrentStock.LessThanOrEqual(p.MinStock):
		return StockStatusLow
	default:
		return StockStatusIn
	}
}

// Increment is the quantity one add-to-cart step adds for this product.
func (p Product) Increment() decimal.Decimal {
	if p.WeightPriced && p.QtyIncrement.IsPositive() {
		return p.QtyIncrement
	}
	return decimal.NewFromInt(1)
}

type CartLineItem struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	ImageURL       string          `json:"image_url,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	WeightPriced   bool            `json:"weight_priced,omitempty"`
	QtyIncrement   decimal.Decimal `json:"qty_increment"`
}

type Discount struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// CartSnapshot is a detached copy of a cart: what checkout consumes and what a
// held order freezes.
type CartSnapshot struct {
	Items      []CartLineItem `json:"items"`
	CustomerID string         `json:"customer_id,omitempty"`
	Discount   *Discount      `json:"discount,omitempty"`
}

type Totals struct {
	SubtotalCents   int64 `json:"subtotal_cents"`
	TaxCents        int64 `json:"tax_cents"`
	TotalCents      int64 `json:"total_cents"`
	DiscountCents   int64 `json:"discount_cents"`
	FinalTotalCents int64 `json:"final_total_cents"`
}

type TenantSettings struct {
	TenantID       string          `json:"tenant_id"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	MaxOrders      int64           `json:"max_orders"`
	CurrencySymbol string          `json:"currency_symbol"`
}

type Actor struct {
	UserID   string
	Role     string
	TenantID string
}

type HeldOrder struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	RegisterID string         `json:"register_id"`
	Items      []CartLineItem `json:"items"`
	CustomerID string         `json:"customer_id,omitempty"`
	Discount   *Discount      `json:"discount,omitempty"`
	CashierID  string         `json:"cashier_id"`
	Note       string         `json:"note,omitempty"`
	HeldAt     time.Time      `json:"held_at"`
}

// Snapshot returns the frozen cart carried by the held order.
func (h HeldOrder) Snapshot() CartSnapshot {
	return CartSnapshot{
		Items:      CloneLineItems(h.Items),
		CustomerID: h.CustomerID,
		Discount:   CloneDiscount(h.Discount),
	}
}

type SaleLineItem struct {
	ProductID         string          `json:"product_id"`
	Name              string          `json:"name"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPriceCents    int64           `json:"unit_price_cents"`
	LineSubtotalCents int64           `json:"line_subtotal_cents"`
	CostPriceCents    int64           `json:"cost_price_cents"`
}

type Sale struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	TenantID        string          `json:"tenant_id"`
	RegisterID      string          `json:"register_id"`
	ShiftID         string          `json:"shift_id"`
	CashierID       string          `json:"cashier_id"`
	CustomerID      string          `json:"customer_id"`
	Items           []SaleLineItem  `json:"items"`
	SubtotalCents   int64           `json:"subtotal_cents"`
	TaxCents        int64           `json:"tax_cents"`
	DiscountCents   int64           `json:"discount_cents"`
	GrandTotalCents int64           `json:"grand_total_cents"`
	Discount        *Discount       `json:"discount,omitempty"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	PaymentMethod   string          `json:"payment_method"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Receipt struct {
	ID        string    `json:"id"`
	SaleID    string    `json:"sale_id"`
	Number    string    `json:"number"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RefundLineItem struct {
	ProductID   string          `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	AmountCents int64           `json:"amount_cents"`
}

type Refund struct {
	ID          string           `json:"id"`
	Number      string           `json:"number"`
	TenantID    string           `json:"tenant_id"`
	SaleID      string           `json:"sale_id"`
	Items       []RefundLineItem `json:"items"`
	TotalCents  int64            `json:"total_cents"`
	Reason      string           `json:"reason"`
	ProcessedBy string           `json:"processed_by"`
	CreatedAt   time.Time        `json:"created_at"`
}

type StockAdjustment struct {
	ProductID string          `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
}

type RefundSummaryLine struct {
	ProductID   string          `json:"product_id"`
	Sold        decimal.Decimal `json:"sold"`
	Refunded    decimal.Decimal `json:"refunded"`
	Refundable  decimal.Decimal `json:"refundable"`
	AmountCents int64           `json:"refunded_amount_cents"`
}

type SaleRefundSummary struct {
	SaleID             string              `json:"sale_id"`
	Refunds            []Refund            `json:"refunds"`
	Lines              []RefundSummaryLine `json:"lines"`
	RefundedTotalCents int64               `json:"refunded_total_cents"`
	FullyRefunded      bool                `json:"fully_refunded"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	UserID    string
	TenantID  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

func CloneLineItems(src []CartLineItem) []CartLineItem {
	if src == nil {
		return nil
	}
	dup := make([]CartLineItem, len(src))
	copy(dup, src)
	return dup
}

func CloneDiscount(src *Discount) *Discount {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}

const (
	StockStatusIn  = "in_stock"
	StockStatusLow = "low_stock"
	StockStatusOut = "out_of_stock"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentQRIS    = "qris"
	PaymentEWallet = "ewallet"
)

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)
