package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns an opaque identifier such as "sale-0b4f...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

const (
	SaleNumberPrefix    = "SALE"
	ReceiptNumberPrefix = "RCP"
	RefundNumberPrefix  = "REF"
)

var numberWidths = map[string]int{
	SaleNumberPrefix:    6,
	ReceiptNumberPrefix: 8,
	RefundNumberPrefix:  6,
}

// Number formats a per-tenant sequence value as a display number, e.g.
// SALE-000042. Values wider than the padding are printed in full.
func Number(prefix string, seq int64) string {
	width, ok := numberWidths[prefix]
	if !ok {
		width = 6
	}
	return fmt.Sprintf("%s-%0*d", prefix, width, seq)
}
