package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	UserID   string `json:"user_id" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type CashierUser struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type addItemRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=128"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type updateQuantityRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

type discountRequest struct {
	Type  string          `json:"type" validate:"required,oneof=percentage fixed"`
	Value decimal.Decimal `json:"value"`
}

type customerRequest struct {
	CustomerID string `json:"customer_id" validate:"max=128"`
}

type checkoutRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,max=32"`
	ShiftID       string `json:"shift_id" validate:"max=128"`
	CustomerID    string `json:"customer_id" validate:"max=128"`
}

type holdRequest struct {
	Note string `json:"note" validate:"max=280"`
}

type recallRequest struct {
	RegisterID string `json:"register_id" validate:"required,max=64"`
}

type refundItemRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=128"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type refundRequest struct {
	SaleID     string              `json:"sale_id" validate:"required,max=128"`
	Items      []refundItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
	Reason     string              `json:"reason" validate:"required,max=280"`
	ManagerPIN string              `json:"manager_pin" validate:"required"`
}

type settingsRequest struct {
	TaxRate        decimal.Decimal `json:"tax_rate"`
	MaxOrders      int64           `json:"max_orders" validate:"gte=0"`
	CurrencySymbol string          `json:"currency_symbol" validate:"max=8"`
}

type productRequest struct {
	ID             string          `json:"id" validate:"max=128"`
	Name           string          `json:"name" validate:"required,max=160"`
	ImageURL       string          `json:"image_url" validate:"omitempty,url,max=512"`
	UnitPriceCents int64           `json:"unit_price_cents" validate:"gte=0"`
	CostPriceCents int64           `json:"cost_price_cents" validate:"gte=0"`
	CurrentStock   decimal.Decimal `json:"current_stock"`
	MinStock       decimal.Decimal `json:"min_stock"`
	WeightPriced   bool            `json:"weight_priced"`
	QtyIncrement   decimal.Decimal `json:"qty_increment"`
	Active         *bool           `json:"active"`
}

type stockAdjustmentRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" validate:"required,max=280"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs the struct's validate tags and flattens the first
// failure into a message a client can act on.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Field()
		if fe.Param() != "" {
			return fmt.Errorf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%s is %s", field, fe.Tag())
	}
	return err
}
