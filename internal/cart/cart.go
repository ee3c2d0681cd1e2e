// Package cart holds the in-progress line items of one register session.
package cart

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
)

var (
	ErrExceedsStock    = errors.New("quantity exceeds available stock")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrItemNotFound    = errors.New("item not in cart")
	ErrInvalidDiscount = pricing.ErrInvalidDiscount
)

// Cart is owned by a single register session. The mutex only guards against
// accidental sharing; callers are expected to serialize their own commands.
type Cart struct {
	mu         sync.Mutex
	items      []domain.CartLineItem
	customerID string
	discount   *domain.Discount
}

func New() *Cart {
	return &Cart{}
}

// Add puts qty of product into the cart, or one increment when qty is zero.
// The price, name and image are snapshotted on first insert. Adding beyond the
// product's current stock is rejected and leaves the cart untouched.
func (c *Cart) Add(product domain.Product, qty decimal.Decimal) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidQuantity)
	}
	if qty.IsZero() {
		qty = product.Increment()
	}
	if err := ValidateQuantity(qty, product.WeightPriced, product.Increment()); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(product.ID)
	existing := decimal.Zero
	if idx >= 0 {
		existing = c.items[idx].Quantity
	}
	next := existing.Add(qty)
	if next.GreaterThan(product.CurrentStock) {
		return fmt.Errorf("%w: %s has %s left", ErrExceedsStock, product.Name, product.CurrentStock.String())
	}
	if idx >= 0 {
		c.items[idx].Quantity = next
		return nil
	}
	c.items = append(c.items, domain.CartLineItem{
		ProductID:      product.ID,
		Name:           product.Name,
		UnitPriceCents: product.UnitPriceCents,
		ImageURL:       product.ImageURL,
		Quantity:       next,
		WeightPriced:   product.WeightPriced,
		QtyIncrement:   product.Increment(),
	})
	return nil
}

// UpdateQuantity adds delta to a line. A result at or below zero removes the
// line; a result above currentStock is rejected and the old quantity kept.
func (c *Cart) UpdateQuantity(productID string, delta decimal.Decimal, currentStock decimal.Decimal) error {
	if delta.IsZero() {
		return fmt.Errorf("%w: delta must not be zero", ErrInvalidQuantity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	line := c.items[idx]
	next := line.Quantity.Add(delta)
	if !next.IsPositive() {
		c.items = append(c.items[:idx], c.items[idx+1:]...)
		return nil
	}
	if err := ValidateQuantity(next, line.WeightPriced, line.QtyIncrement); err != nil {
		return err
	}
	if next.GreaterThan(currentStock) {
		return fmt.Errorf("%w: %s has %s left", ErrExceedsStock, line.Name, currentStock.String())
	}
	c.items[idx].Quantity = next
	return nil
}

func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(productID); idx >= 0 {
		c.items = append(c.items[:idx], c.items[idx+1:]...)
	}
}

// Clear empties the cart and drops the customer and discount.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	c.customerID = ""
	c.discount = nil
}

func (c *Cart) SetCustomer(customerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customerID = strings.TrimSpace(customerID)
}

// SetDiscount replaces the cart discount; nil removes it.
func (c *Cart) SetDiscount(d *domain.Discount) error {
	if d != nil {
		if err := pricing.ValidateDiscount(*d); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.discount = domain.CloneDiscount(d)
	return nil
}

func (c *Cart) Snapshot() domain.CartSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return domain.CartSnapshot{
		Items:      domain.CloneLineItems(c.items),
		CustomerID: c.customerID,
		Discount:   domain.CloneDiscount(c.discount),
	}
}

// Restore replaces the cart contents with a snapshot, e.g. a recalled order.
func (c *Cart) Restore(snapshot domain.CartSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = domain.CloneLineItems(snapshot.Items)
	c.customerID = snapshot.CustomerID
	c.discount = domain.CloneDiscount(snapshot.Discount)
}

func (c *Cart) Items() []domain.CartLineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneLineItems(c.items)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.items {
		if c.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// ValidateQuantity checks qty against a product's selling unit: whole numbers
// for counted products, multiples of step for weight-priced ones.
func ValidateQuantity(qty decimal.Decimal, weightPriced bool, step decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	if !weightPriced {
		if !qty.Equal(qty.Truncate(0)) {
			return fmt.Errorf("%w: quantity must be a whole number", ErrInvalidQuantity)
		}
		return nil
	}
	if step.IsPositive() && !qty.Mod(step).IsZero() {
		return fmt.Errorf("%w: quantity must be a multiple of %s", ErrInvalidQuantity, step.String())
	}
	return nil
}
