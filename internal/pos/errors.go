package pos

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrOrderLimitExceeded = errors.New("order limit exceeded")
	ErrSaleNotFound       = errors.New("sale not found")
	ErrHeldOrderNotFound  = errors.New("held order not found")
	ErrProductNotFound    = errors.New("product not found")
)

// ValidationError carries a short reason safe to show a cashier.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// LimitError reports a tenant that has used its plan's order quota.
type LimitError struct {
	Count int64
	Max   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Order limit reached (%d/%d)", e.Count, e.Max)
}

func (e *LimitError) Is(target error) bool { return target == ErrOrderLimitExceeded }

type StockError struct {
	ProductID string
	Name      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s: requested %s, available %s", e.Name, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool { return target == store.ErrInsufficientStock }
