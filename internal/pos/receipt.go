package pos

import (
	"context"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
)

const receiptRule = "========================"

// RenderedReceipt is the printable form of a sale's receipt.
type RenderedReceipt struct {
	SaleID        string   `json:"sale_id"`
	ReceiptNumber string   `json:"receipt_number"`
	Lines         []string `json:"lines"`
	Text          string   `json:"text"`
}

// PrintReceipt loads a sale with its receipt and renders it with the tenant's
// currency symbol.
func (e *Engine) PrintReceipt(ctx context.Context, tenantID string, saleID string) (RenderedReceipt, error) {
	sale, err := e.GetSale(ctx, tenantID, saleID)
	if err != nil {
		return RenderedReceipt{}, err
	}
	receipt, err := e.GetReceipt(ctx, tenantID, saleID)
	if err != nil {
		return RenderedReceipt{}, err
	}
	settings, err := e.settings.TenantSettings(ctx, tenantID)
	if err != nil {
		return RenderedReceipt{}, fmt.Errorf("load tenant settings: %w", err)
	}
	return RenderReceipt(*sale, *receipt, settings.CurrencySymbol), nil
}

func RenderReceipt(sale domain.Sale, receipt domain.Receipt, currencySymbol string) RenderedReceipt {
	money := func(cents int64) string { return pricing.FormatCents(cents, currencySymbol) }

	lines := []string{
		"RetailPOS",
		receiptRule,
		"Receipt: " + receipt.Number,
		"Sale: " + sale.Number,
		"Register: " + sale.RegisterID,
		"Cashier: " + sale.CashierID,
		"Date: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, item := range sale.Items {
		lines = append(lines, fmt.Sprintf("%s x%s", item.Name, item.Quantity.String()))
		lines = append(lines, fmt.Sprintf("  %s @ %s", money(item.LineSubtotalCents), money(item.UnitPriceCents)))
	}
	lines = append(lines,
		"------------------------",
		"Subtotal : "+money(sale.SubtotalCents),
		"Tax      : "+money(sale.TaxCents),
	)
	if sale.DiscountCents > 0 {
		lines = append(lines, "Discount : -"+money(sale.DiscountCents))
	}
	lines = append(lines,
		"Total    : "+money(sale.GrandTotalCents),
		"Paid by  : "+strings.ToUpper(sale.PaymentMethod),
		receiptRule,
		"Thank you",
	)
	return RenderedReceipt{
		SaleID:        sale.ID,
		ReceiptNumber: receipt.Number,
		Lines:         lines,
		Text:          strings.Join(lines, "\n") + "\n",
	}
}
