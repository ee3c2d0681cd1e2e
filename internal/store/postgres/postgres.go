package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables the store needs when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error) {
	var settings domain.TenantSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, tax_rate, max_orders, currency_symbol
		FROM tenant_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&settings.TenantID, &settings.TaxRate, &settings.MaxOrders, &settings.CurrencySymbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpsertTenantSettings(ctx context.Context, settings domain.TenantSettings) error {
	if strings.TrimSpace(settings.TenantID) == "" || settings.TaxRate.IsNegative() || settings.MaxOrders < 0 {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, tax_rate, max_orders, currency_symbol, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id)
		DO UPDATE SET tax_rate = EXCLUDED.tax_rate, max_orders = EXCLUDED.max_orders,
			currency_symbol = EXCLUDED.currency_symbol, updated_at = now()
	`, settings.TenantID, settings.TaxRate, settings.MaxOrders, settings.CurrencySymbol)
	return err
}

const productColumns = `tenant_id, id, name, image_url, unit_price_cents, cost_price_cents,
	current_stock, min_stock, weight_priced, qty_increment, active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.TenantID, &p.ID, &p.Name, &p.ImageURL, &p.UnitPriceCents, &p.CostPriceCents,
		&p.CurrentStock, &p.MinStock, &p.WeightPriced, &p.QtyIncrement, &p.Active)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueIDs(productIDs)
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.TenantID) == "" || product.UnitPriceCents < 0 || product.CurrentStock.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if !product.QtyIncrement.IsPositive() {
		product.QtyIncrement = decimal.NewFromInt(1)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (tenant_id, id)
		DO UPDATE SET name = EXCLUDED.name, image_url = EXCLUDED.image_url,
			unit_price_cents = EXCLUDED.unit_price_cents, cost_price_cents = EXCLUDED.cost_price_cents,
			current_stock = EXCLUDED.current_stock, min_stock = EXCLUDED.min_stock,
			weight_priced = EXCLUDED.weight_priced, qty_increment = EXCLUDED.qty_increment,
			active = EXCLUDED.active, updated_at = now()
	`, product.TenantID, product.ID, product.Name, product.ImageURL, product.UnitPriceCents, product.CostPriceCents,
		product.CurrentStock, product.MinStock, product.WeightPriced, product.QtyIncrement, product.Active)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// AdjustStock applies signed deltas in one transaction, locking rows in id order.
func (s *Store) AdjustStock(ctx context.Context, tenantID string, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(adjustments))
	deltas := make(map[string]decimal.Decimal, len(adjustments))
	for _, adj := range adjustments {
		ids = append(ids, adj.ProductID)
		deltas[adj.ProductID] = deltas[adj.ProductID].Add(adj.Delta)
	}
	stock, err := lockStock(ctx, tx, tenantID, uniqueIDs(ids))
	if err != nil {
		return err
	}
	for id, delta := range deltas {
		current, ok := stock[id]
		if !ok {
			return store.ErrNotFound
		}
		if current.Add(delta).IsNegative() {
			return &store.ShortfallError{ProductID: id, Available: current}
		}
	}
	for _, id := range uniqueIDs(ids) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock + $3, updated_at = now()
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, id, deltas[id]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CountSales(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sales WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

// nextNumber draws the tenant's next value for name inside tx, so the counter
// only advances when the surrounding write commits.
func nextNumber(ctx context.Context, q queryer, tenantID string, name string, prefix string) (string, error) {
	var value int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO pos_sequences (tenant_id, name, value)
		VALUES ($1,$2,1)
		ON CONFLICT (tenant_id, name)
		DO UPDATE SET value = pos_sequences.value + 1
		RETURNING value
	`, tenantID, name).Scan(&value)
	if err != nil {
		return "", err
	}
	return xid.Number(prefix, value), nil
}

// CreateSale re-checks the order limit and stock under row locks, then writes
// the sale, its lines, the receipt and the stock decrements in one transaction.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, receipt domain.Receipt, opts store.SaleOptions) (*domain.Sale, *domain.Receipt, error) {
	if sale.TenantID == "" || len(sale.Items) == 0 {
		return nil, nil, store.ErrInvalidTransaction
	}

	required := make(map[string]decimal.Decimal, len(sale.Items))
	ids := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		if !item.Quantity.IsPositive() {
			return nil, nil, store.ErrInvalidTransaction
		}
		required[item.ProductID] = required[item.ProductID].Add(item.Quantity)
		ids = append(ids, item.ProductID)
	}
	ids = uniqueIDs(ids)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "sales:"+sale.TenantID); err != nil {
		return nil, nil, err
	}
	if opts.MaxOrders > 0 {
		var count int64
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM sales WHERE tenant_id = $1`, sale.TenantID).Scan(&count); err != nil {
			return nil, nil, err
		}
		if count >= opts.MaxOrders {
			return nil, nil, store.ErrOrderLimitReached
		}
	}

	stock, err := lockStock(ctx, tx, sale.TenantID, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		current, ok := stock[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		if current.LessThan(required[id]) && !opts.AllowOversell {
			return nil, nil, &store.ShortfallError{ProductID: id, Available: current}
		}
	}

	if sale.Number == "" {
		if sale.Number, err = nextNumber(ctx, tx, sale.TenantID, store.SequenceSale, xid.SaleNumberPrefix); err != nil {
			return nil, nil, err
		}
	}
	if receipt.Number == "" {
		if receipt.Number, err = nextNumber(ctx, tx, sale.TenantID, store.SequenceReceipt, xid.ReceiptNumberPrefix); err != nil {
			return nil, nil, err
		}
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

	discountJSON, err := marshalDiscount(sale.Discount)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, tenant_id, register_id, shift_id, cashier_id, customer_id,
			subtotal_cents, tax_cents, discount_cents, grand_total_cents, discount,
			tax_rate, payment_method, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.Number, sale.TenantID, sale.RegisterID, sale.ShiftID, sale.CashierID, sale.CustomerID,
		sale.SubtotalCents, sale.TaxCents, sale.DiscountCents, sale.GrandTotalCents, discountJSON,
		sale.TaxRate, sale.PaymentMethod, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}
	for i, item := range sale.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, line_no, product_id, name, quantity, unit_price_cents,
				line_subtotal_cents, cost_price_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, item.ProductID, item.Name, item.Quantity, item.UnitPriceCents,
			item.LineSubtotalCents, item.CostPriceCents)
		if err != nil {
			return nil, nil, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (id, sale_id, number, tenant_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, receipt.ID, receipt.SaleID, receipt.Number, receipt.TenantID, receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrInvalidTransaction
		}
		return nil, nil, err
	}
	for _, id := range ids {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = GREATEST(current_stock - $3, 0), updated_at = now()
			WHERE tenant_id = $1 AND id = $2
		`, sale.TenantID, id, required[id])
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &sale, &receipt, nil
}

func (s *Store) GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	return getSale(ctx, s.db, tenantID, saleID, false)
}

func getSale(ctx context.Context, q queryer, tenantID string, saleID string, forUpdate bool) (*domain.Sale, error) {
	query := `
		SELECT id, number, tenant_id, register_id, shift_id, cashier_id, customer_id,
			subtotal_cents, tax_cents, discount_cents, grand_total_cents, discount,
			tax_rate, payment_method, created_at, updated_at
		FROM sales
		WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var sale domain.Sale
	var discountRaw []byte
	err := q.QueryRowContext(ctx, query, tenantID, saleID).Scan(
		&sale.ID,
		&sale.Number,
		&sale.TenantID,
		&sale.RegisterID,
		&sale.ShiftID,
		&sale.CashierID,
		&sale.CustomerID,
		&sale.SubtotalCents,
		&sale.TaxCents,
		&sale.DiscountCents,
		&sale.GrandTotalCents,
		&discountRaw,
		&sale.TaxRate,
		&sale.PaymentMethod,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	if sale.Discount, err = unmarshalDiscount(discountRaw); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, name, quantity, unit_price_cents, line_subtotal_cents, cost_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleLineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPriceCents,
			&item.LineSubtotalCents, &item.CostPriceCents); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetReceiptBySale(ctx context.Context, tenantID string, saleID string) (*domain.Receipt, error) {
	var receipt domain.Receipt
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_id, number, tenant_id, created_at, updated_at
		FROM receipts
		WHERE tenant_id = $1 AND sale_id = $2
	`, tenantID, saleID).Scan(&receipt.ID, &receipt.SaleID, &receipt.Number, &receipt.TenantID,
		&receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	receipt.CreatedAt = receipt.CreatedAt.UTC()
	receipt.UpdatedAt = receipt.UpdatedAt.UTC()
	return &receipt, nil
}

// CreateRefund locks the sale row so concurrent refunds against the same sale
// see each other, enforces the cumulative cap and restores stock.
func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	if len(refund.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := getSale(ctx, tx, refund.TenantID, refund.SaleID, true)
	if err != nil {
		return nil, err
	}
	earlier, err := listRefunds(ctx, tx, refund.TenantID, refund.SaleID)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateRefundCap(*sale, earlier, refund); err != nil {
		return nil, err
	}
	if refund.Number == "" {
		if refund.Number, err = nextNumber(ctx, tx, refund.TenantID, store.SequenceRefund, xid.RefundNumberPrefix); err != nil {
			return nil, err
		}
	}

	itemsJSON, err := json.Marshal(refund.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO refunds (id, number, tenant_id, sale_id, items, total_cents, reason, processed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, refund.ID, refund.Number, refund.TenantID, refund.SaleID, itemsJSON, refund.TotalCents,
		refund.Reason, refund.ProcessedBy, refund.CreatedAt)
	if err != nil {
		return nil, err
	}

	restock := make(map[string]decimal.Decimal, len(refund.Items))
	ids := make([]string, 0, len(refund.Items))
	for _, line := range refund.Items {
		restock[line.ProductID] = restock[line.ProductID].Add(line.Quantity)
		ids = append(ids, line.ProductID)
	}
	for _, id := range uniqueIDs(ids) {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock + $3, updated_at = now()
			WHERE tenant_id = $1 AND id = $2
		`, refund.TenantID, id, restock[id])
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (s *Store) ListRefundsBySale(ctx context.Context, tenantID string, saleID string) ([]domain.Refund, error) {
	return listRefunds(ctx, s.db, tenantID, saleID)
}

func listRefunds(ctx context.Context, q queryer, tenantID string, saleID string) ([]domain.Refund, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, number, tenant_id, sale_id, items, total_cents, reason, processed_by, created_at
		FROM refunds
		WHERE tenant_id = $1 AND sale_id = $2
		ORDER BY created_at, id
	`, tenantID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 4)
	for rows.Next() {
		var refund domain.Refund
		var itemsRaw []byte
		if err := rows.Scan(&refund.ID, &refund.Number, &refund.TenantID, &refund.SaleID, &itemsRaw,
			&refund.TotalCents, &refund.Reason, &refund.ProcessedBy, &refund.CreatedAt); err != nil {
			return nil, err
		}
		refund.CreatedAt = refund.CreatedAt.UTC()
		if err := json.Unmarshal(itemsRaw, &refund.Items); err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	return refunds, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorID, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, tenant_id, password, role, active, created_at
		FROM app_users
		WHERE user_id = $1
	`, strings.ToLower(strings.TrimSpace(userID))).Scan(&user.UserID, &user.TenantID, &user.Password,
		&user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.UserID = strings.ToLower(strings.TrimSpace(user.UserID))
	if user.UserID == "" || strings.TrimSpace(user.Password) == "" || strings.TrimSpace(user.TenantID) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (user_id, tenant_id, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.UserID, user.TenantID, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) CreateHeldOrder(ctx context.Context, held domain.HeldOrder) (*domain.HeldOrder, error) {
	if held.TenantID == "" || held.RegisterID == "" || len(held.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(held.Items)
	if err != nil {
		return nil, err
	}
	discountJSON, err := marshalDiscount(held.Discount)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_orders (id, tenant_id, register_id, items, customer_id, discount, cashier_id, note, held_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, held.ID, held.TenantID, held.RegisterID, itemsJSON, held.CustomerID, discountJSON,
		held.CashierID, held.Note, held.HeldAt)
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

const heldOrderColumns = `id, tenant_id, register_id, items, customer_id, discount, cashier_id, note, held_at`

func scanHeldOrder(row rowScanner) (domain.HeldOrder, error) {
	var held domain.HeldOrder
	var itemsRaw []byte
	var discountRaw []byte
	if err := row.Scan(&held.ID, &held.TenantID, &held.RegisterID, &itemsRaw, &held.CustomerID,
		&discountRaw, &held.CashierID, &held.Note, &held.HeldAt); err != nil {
		return held, err
	}
	held.HeldAt = held.HeldAt.UTC()
	if err := json.Unmarshal(itemsRaw, &held.Items); err != nil {
		return held, err
	}
	discount, err := unmarshalDiscount(discountRaw)
	held.Discount = discount
	return held, err
}

func (s *Store) ListHeldOrders(ctx context.Context, tenantID string, registerID string, limit int) ([]domain.HeldOrder, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldOrderColumns+`
		FROM held_orders
		WHERE tenant_id = $1 AND ($2 = '' OR register_id = $2)
		ORDER BY held_at DESC, id DESC
		LIMIT $3
	`, tenantID, registerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	helds := make([]domain.HeldOrder, 0, 16)
	for rows.Next() {
		held, err := scanHeldOrder(rows)
		if err != nil {
			return nil, err
		}
		helds = append(helds, held)
	}
	return helds, rows.Err()
}

// PopHeldOrder deletes and returns the row in a single statement, so two
// concurrent recalls cannot both receive it.
func (s *Store) PopHeldOrder(ctx context.Context, tenantID string, heldOrderID string) (*domain.HeldOrder, error) {
	held, err := scanHeldOrder(s.db.QueryRowContext(ctx, `
		DELETE FROM held_orders
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+heldOrderColumns, tenantID, heldOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &held, nil
}

func (s *Store) DeleteHeldOrder(ctx context.Context, tenantID string, heldOrderID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_orders WHERE tenant_id = $1 AND id = $2`, tenantID, heldOrderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func lockStock(ctx context.Context, tx *sql.Tx, tenantID string, ids []string) (map[string]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, current_stock
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stock := make(map[string]decimal.Decimal, len(ids))
	for rows.Next() {
		var id string
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stock[id] = qty
	}
	return stock, rows.Err()
}

func marshalDiscount(d *domain.Discount) (any, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func unmarshalDiscount(raw []byte) (*domain.Discount, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var d domain.Discount
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func uniqueIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
