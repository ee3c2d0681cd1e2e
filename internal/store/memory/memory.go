package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const DemoTenantID = "demo-tenant"

// Store keeps every record behind one RWMutex. Stock checks and decrements
// happen under the write lock, so a sale either applies fully or not at all.
type Store struct {
	mu             sync.RWMutex
	settings       map[string]domain.TenantSettings
	products       map[string]map[string]domain.Product
	salesByID      map[string]domain.Sale
	receiptsBySale map[string]domain.Receipt
	refundsByID    map[string]domain.Refund
	refundsBySale  map[string][]string
	sequences      map[string]int64
	heldByID       map[string]domain.HeldOrder
	auditLogs      []domain.AuditLog
	usersByID      map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		settings:       make(map[string]domain.TenantSettings),
		products:       make(map[string]map[string]domain.Product),
		salesByID:      make(map[string]domain.Sale),
		receiptsBySale: make(map[string]domain.Receipt),
		refundsByID:    make(map[string]domain.Refund),
		refundsBySale:  make(map[string][]string),
		sequences:      make(map[string]int64),
		heldByID:       make(map[string]domain.HeldOrder),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		usersByID:      make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo tenant, catalog and user accounts.
// Passwords come from POS_SEED_ADMIN_PASSWORD and POS_SEED_CASHIER_PASSWORD
// and fall back to dev defaults; see UsingDefaultSeedCredentials.
func NewSeeded() *Store {
	s := New()
	s.settings[DemoTenantID] = domain.TenantSettings{
		TenantID:       DemoTenantID,
		TaxRate:        decimal.RequireFromString("0.1"),
		CurrencySymbol: "Rp",
	}

	one := decimal.NewFromInt(1)
	catalog := []domain.Product{
		{ID: "prd-mie-01", Name: "Mie Goreng Instan", UnitPriceCents: 3500, CostPriceCents: 2700, CurrentStock: decimal.NewFromInt(120), MinStock: decimal.NewFromInt(10), QtyIncrement: one},
		{ID: "prd-telur-01", Name: "Telur 10 Butir", UnitPriceCents: 26500, CostPriceCents: 23000, CurrentStock: decimal.NewFromInt(60), MinStock: decimal.NewFromInt(5), QtyIncrement: one},
		{ID: "prd-susu-01", Name: "Susu UHT 1L", UnitPriceCents: 18900, CostPriceCents: 13600, CurrentStock: decimal.NewFromInt(48), MinStock: decimal.NewFromInt(6), QtyIncrement: one},
		{ID: "prd-kopi-01", Name: "Kopi Sachet", UnitPriceCents: 2600, CostPriceCents: 1700, CurrentStock: decimal.NewFromInt(200), MinStock: decimal.NewFromInt(20), QtyIncrement: one},
		{ID: "prd-beras-01", Name: "Beras Curah (kg)", UnitPriceCents: 14500, CostPriceCents: 12100, CurrentStock: decimal.NewFromInt(50), MinStock: decimal.NewFromInt(5), WeightPriced: true, QtyIncrement: decimal.RequireFromString("0.25")},
		{ID: "prd-gula-01", Name: "Gula Pasir (kg)", UnitPriceCents: 17400, CostPriceCents: 15300, CurrentStock: decimal.NewFromInt(3), MinStock: decimal.NewFromInt(5), WeightPriced: true, QtyIncrement: decimal.RequireFromString("0.5")},
	}
	tenantProducts := make(map[string]domain.Product, len(catalog))
	for _, p := range catalog {
		p.TenantID = DemoTenantID
		p.Active = true
		tenantProducts[p.ID] = p
	}
	s.products[DemoTenantID] = tenantProducts

	now := time.Now().UTC()
	for _, u := range []struct {
		id       string
		password string
		role     string
	}{
		{"admin", envOr("POS_SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"cashier", envOr("POS_SEED_CASHIER_PASSWORD", "cashier123"), domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory: hash seed password for %s: %v", u.id, err))
		}
		s.usersByID[u.id] = domain.UserAccount{
			UserID:    u.id,
			TenantID:  DemoTenantID,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s
}

// UsingDefaultSeedCredentials reports whether NewSeeded fell back to the dev
// passwords.
func UsingDefaultSeedCredentials() bool {
	return os.Getenv("POS_SEED_ADMIN_PASSWORD") == "" || os.Getenv("POS_SEED_CASHIER_PASSWORD") == ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetTenantSettings(_ context.Context, tenantID string) (*domain.TenantSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (s *Store) UpsertTenantSettings(_ context.Context, settings domain.TenantSettings) error {
	if strings.TrimSpace(settings.TenantID) == "" || settings.TaxRate.IsNegative() || settings.MaxOrders < 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.TenantID] = settings
	return nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[tenantID][productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProducts(_ context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[tenantID][id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products[tenantID]))
	for _, product := range s.products[tenantID] {
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.TenantID) == "" || product.UnitPriceCents < 0 || product.CurrentStock.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if !product.QtyIncrement.IsPositive() {
		product.QtyIncrement = decimal.NewFromInt(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.TenantID]; !ok {
		s.products[product.TenantID] = make(map[string]domain.Product)
	}
	s.products[product.TenantID][product.ID] = product
	return &product, nil
}

// AdjustStock applies signed deltas. A delta that would take stock below zero
// fails the whole batch.
func (s *Store) AdjustStock(_ context.Context, tenantID string, adjustments []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := s.products[tenantID]
	for _, adj := range adjustments {
		product, ok := catalog[adj.ProductID]
		if !ok {
			return store.ErrNotFound
		}
		if product.CurrentStock.Add(adj.Delta).IsNegative() {
			return &store.ShortfallError{ProductID: adj.ProductID, Available: product.CurrentStock}
		}
	}
	for _, adj := range adjustments {
		product := catalog[adj.ProductID]
		product.CurrentStock = product.CurrentStock.Add(adj.Delta)
		catalog[adj.ProductID] = product
	}
	return nil
}

func (s *Store) CountSales(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countSalesLocked(tenantID), nil
}

func (s *Store) countSalesLocked(tenantID string) int64 {
	var count int64
	for _, sale := range s.salesByID {
		if sale.TenantID == tenantID {
			count++
		}
	}
	return count
}

func (s *Store) nextSequenceLocked(tenantID string, name string) int64 {
	key := tenantID + "|" + name
	s.sequences[key]++
	return s.sequences[key]
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, receipt domain.Receipt, opts store.SaleOptions) (*domain.Sale, *domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TenantID == "" || len(sale.Items) == 0 {
		return nil, nil, store.ErrInvalidTransaction
	}
	if opts.MaxOrders > 0 && s.countSalesLocked(sale.TenantID) >= opts.MaxOrders {
		return nil, nil, store.ErrOrderLimitReached
	}

	catalog := s.products[sale.TenantID]
	required := make(map[string]decimal.Decimal, len(sale.Items))
	for _, item := range sale.Items {
		if !item.Quantity.IsPositive() {
			return nil, nil, store.ErrInvalidTransaction
		}
		if _, ok := catalog[item.ProductID]; !ok {
			return nil, nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		required[item.ProductID] = required[item.ProductID].Add(item.Quantity)
	}
	for productID, qty := range required {
		if catalog[productID].CurrentStock.LessThan(qty) && !opts.AllowOversell {
			return nil, nil, &store.ShortfallError{ProductID: productID, Available: catalog[productID].CurrentStock}
		}
	}

	// Numbers are drawn only once every check has passed, so a rejected sale
	// leaves no gap.
	if sale.Number == "" {
		sale.Number = xid.Number(xid.SaleNumberPrefix, s.nextSequenceLocked(sale.TenantID, store.SequenceSale))
	}
	if receipt.Number == "" {
		receipt.Number = xid.Number(xid.ReceiptNumberPrefix, s.nextSequenceLocked(sale.TenantID, store.SequenceReceipt))
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt
	if receipt.ID == "" {
		receipt.ID = xid.New("rcpt")
	}
	receipt.SaleID = sale.ID
	receipt.TenantID = sale.TenantID
	receipt.CreatedAt = sale.CreatedAt
	receipt.UpdatedAt = sale.CreatedAt

	for productID, qty := range required {
		product := catalog[productID]
		product.CurrentStock = decimal.Max(decimal.Zero, product.CurrentStock.Sub(qty))
		catalog[productID] = product
	}

	saved := cloneSale(sale)
	s.salesByID[sale.ID] = saved
	s.receiptsBySale[sale.ID] = receipt
	out := cloneSale(saved)
	return &out, &receipt, nil
}

func (s *Store) GetSale(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) GetReceiptBySale(_ context.Context, tenantID string, saleID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receiptsBySale[saleID]
	if !ok || receipt.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &receipt, nil
}

// CreateRefund records the refund and restores stock in one step. Quantities
// beyond what the sale has left to refund are rejected.
func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(refund.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	sale, ok := s.salesByID[refund.SaleID]
	if !ok || sale.TenantID != refund.TenantID {
		return nil, store.ErrNotFound
	}
	if err := store.ValidateRefundCap(sale, s.refundsForSaleLocked(sale.ID), refund); err != nil {
		return nil, err
	}

	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.Number == "" {
		refund.Number = xid.Number(xid.RefundNumberPrefix, s.nextSequenceLocked(refund.TenantID, store.SequenceRefund))
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}

	catalog := s.products[refund.TenantID]
	for _, line := range refund.Items {
		product, ok := catalog[line.ProductID]
		if !ok {
			// The catalog entry is gone; the refund still stands.
			continue
		}
		product.CurrentStock = product.CurrentStock.Add(line.Quantity)
		catalog[line.ProductID] = product
	}

	saved := cloneRefund(refund)
	s.refundsByID[refund.ID] = saved
	s.refundsBySale[refund.SaleID] = append(s.refundsBySale[refund.SaleID], refund.ID)
	out := cloneRefund(saved)
	return &out, nil
}

func (s *Store) ListRefundsBySale(_ context.Context, tenantID string, saleID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Refund, 0, len(s.refundsBySale[saleID]))
	for _, refund := range s.refundsForSaleLocked(saleID) {
		if refund.TenantID == tenantID {
			result = append(result, cloneRefund(refund))
		}
	}
	return result, nil
}

func (s *Store) refundsForSaleLocked(saleID string) []domain.Refund {
	ids := s.refundsBySale[saleID]
	result := make([]domain.Refund, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.refundsByID[id])
	}
	return result
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// ListAuditLogs returns the tenant's entries newest first.
func (s *Store) ListAuditLogs(_ context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.TenantID != tenantID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[strings.ToLower(strings.TrimSpace(userID))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := strings.ToLower(strings.TrimSpace(user.UserID))
	if userID == "" || strings.TrimSpace(user.Password) == "" || strings.TrimSpace(user.TenantID) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByID[userID]; exists {
		return store.ErrInvalidTransaction
	}
	user.UserID = userID
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByID[userID] = user
	return nil
}

func (s *Store) CreateHeldOrder(_ context.Context, held domain.HeldOrder) (*domain.HeldOrder, error) {
	if held.TenantID == "" || held.RegisterID == "" || len(held.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.heldByID[held.ID] = cloneHeldOrder(held)
	saved := cloneHeldOrder(held)
	return &saved, nil
}

// ListHeldOrders returns held orders newest first. An empty registerID lists
// the whole tenant.
func (s *Store) ListHeldOrders(_ context.Context, tenantID string, registerID string, limit int) ([]domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HeldOrder, 0, 16)
	for _, held := range s.heldByID {
		if held.TenantID != tenantID {
			continue
		}
		if registerID != "" && held.RegisterID != registerID {
			continue
		}
		result = append(result, cloneHeldOrder(held))
	}
	slices.SortFunc(result, func(a, b domain.HeldOrder) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.HeldAt.Compare(a.HeldAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PopHeldOrder(_ context.Context, tenantID string, heldOrderID string) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.heldByID[heldOrderID]
	if !exists || held.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	delete(s.heldByID, heldOrderID)
	return &held, nil
}

func (s *Store) DeleteHeldOrder(_ context.Context, tenantID string, heldOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.heldByID[heldOrderID]
	if !exists || held.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.heldByID, heldOrderID)
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = make([]domain.SaleLineItem, len(src.Items))
	copy(dup.Items, src.Items)
	dup.Discount = domain.CloneDiscount(src.Discount)
	return dup
}

func cloneRefund(src domain.Refund) domain.Refund {
	dup := src
	dup.Items = make([]domain.RefundLineItem, len(src.Items))
	copy(dup.Items, src.Items)
	return dup
}

func cloneHeldOrder(src domain.HeldOrder) domain.HeldOrder {
	dup := src
	dup.Items = domain.CloneLineItems(src.Items)
	dup.Discount = domain.CloneDiscount(src.Discount)
	return dup
}
