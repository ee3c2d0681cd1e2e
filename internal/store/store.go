package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrOrderLimitReached  = errors.New("order limit reached")
)

// ShortfallError names the product whose stock could not cover a mutation.
// It matches ErrInsufficientStock.
type ShortfallError struct {
	ProductID string
	Available decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%s: %s has %s", ErrInsufficientStock, e.ProductID, e.Available)
}

func (e *ShortfallError) Is(target error) bool { return target == ErrInsufficientStock }

// SaleOptions are re-checked by CreateSale inside the same unit of work that
// decrements stock.
type SaleOptions struct {
	// MaxOrders caps the tenant's sale count; zero means unlimited.
	MaxOrders int64
	// AllowOversell lets a sale proceed when a line exceeds stock. Stock is
	// clamped at zero instead of going negative.
	AllowOversell bool
}

// Per-tenant counters behind display numbers. CreateSale and CreateRefund
// draw from them inside their unit of work when the record has no number yet.
const (
	SequenceSale    = "sale"
	SequenceReceipt = "receipt"
	SequenceRefund  = "refund"
)

type Repository interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error)
	UpsertTenantSettings(ctx context.Context, settings domain.TenantSettings) error
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	GetProducts(ctx context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustStock(ctx context.Context, tenantID string, adjustments []domain.StockAdjustment) error
	CountSales(ctx context.Context, tenantID string) (int64, error)
	CreateSale(ctx context.Context, sale domain.Sale, receipt domain.Receipt, opts SaleOptions) (*domain.Sale, *domain.Receipt, error)
	GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	GetReceiptBySale(ctx context.Context, tenantID string, saleID string) (*domain.Receipt, error)
	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error)
	ListRefundsBySale(ctx context.Context, tenantID string, saleID string) ([]domain.Refund, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error)
	GetUser(ctx context.Context, userID string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

// HeldOrderStore is the tenant's collection of parked carts. PopHeldOrder
// must read and remove in one step so a held order is recalled at most once.
type HeldOrderStore interface {
	CreateHeldOrder(ctx context.Context, held domain.HeldOrder) (*domain.HeldOrder, error)
	ListHeldOrders(ctx context.Context, tenantID string, registerID string, limit int) ([]domain.HeldOrder, error)
	PopHeldOrder(ctx context.Context, tenantID string, heldOrderID string) (*domain.HeldOrder, error)
	DeleteHeldOrder(ctx context.Context, tenantID string, heldOrderID string) error
}

// RefundedQuantities sums the quantity already refunded per product.
func RefundedQuantities(refunds []domain.Refund) map[string]domain.RefundSummaryLine {
	result := make(map[string]domain.RefundSummaryLine)
	for _, refund := range refunds {
		for _, line := range refund.Items {
			acc := result[line.ProductID]
			acc.ProductID = line.ProductID
			acc.Refunded = acc.Refunded.Add(line.Quantity)
			acc.AmountCents += line.AmountCents
			result[line.ProductID] = acc
		}
	}
	return result
}

// SoldQuantities sums sale line quantities per product.
func SoldQuantities(sale domain.Sale) map[string]domain.RefundSummaryLine {
	result := make(map[string]domain.RefundSummaryLine, len(sale.Items))
	for _, line := range sale.Items {
		acc := result[line.ProductID]
		acc.ProductID = line.ProductID
		acc.Sold = acc.Sold.Add(line.Quantity)
		result[line.ProductID] = acc
	}
	return result
}

// ValidateRefundCap rejects a refund whose quantities exceed what remains
// refundable on the sale after earlier refunds.
func ValidateRefundCap(sale domain.Sale, earlier []domain.Refund, refund domain.Refund) error {
	sold := SoldQuantities(sale)
	refunded := RefundedQuantities(earlier)
	requested := RefundedQuantities([]domain.Refund{refund})
	for productID, req := range requested {
		line, ok := sold[productID]
		if !ok {
			return ErrInvalidTransaction
		}
		remaining := line.Sold.Sub(refunded[productID].Refunded)
		if req.Refunded.GreaterThan(remaining) {
			return ErrInvalidTransaction
		}
	}
	return nil
}
