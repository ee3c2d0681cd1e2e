package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/lock"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/pos"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *metrics.Metrics
	log           *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, m *metrics.Metrics, log *zap.Logger, allowedOrigin string) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       m,
		log:           log,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    newCSRFSecret(),
	}
}

var staff = []string{domain.RoleCashier, domain.RoleAdmin}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, staff...))
	mux.HandleFunc("/api/v1/products/{product}/stock", a.requireAuth(a.handleProductStock, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings, staff...))

	mux.HandleFunc("/api/v1/registers/{register}/cart", a.requireAuth(a.handleCart, staff...))
	mux.HandleFunc("/api/v1/registers/{register}/cart/items", a.requireAuth(a.handleCartItems, staff...))
	mux.HandleFunc("/api/v1/registers/{register}/cart/items/{product}", a.requireAuth(a.handleCartItem, staff...))
	mux.HandleFunc("/api/v1/registers/{register}/cart/discount", a.requireAuth(a.handleCartDiscount, staff...))
	mux.HandleFunc("/api/v1/registers/{register}/cart/customer", a.requireAuth(a.handleCartCustomer, staff...))
	mux.HandleFunc("/api/v1/registers/{register}/checkout", a.requireAuth(a.handleCheckout, staff...))
	mux.HandleFunc("/api/v1/registers/{register}/hold", a.requireAuth(a.handleHold, staff...))

	mux.HandleFunc("/api/v1/held-orders", a.requireAuth(a.handleHeldOrders, staff...))
	mux.HandleFunc("/api/v1/held-orders/{id}", a.requireAuth(a.handleHeldOrder, staff...))
	mux.HandleFunc("/api/v1/held-orders/{id}/recall", a.requireAuth(a.handleRecall, staff...))

	mux.HandleFunc("/api/v1/sales/{id}", a.requireAuth(a.handleSale, staff...))
	mux.HandleFunc("/api/v1/sales/{id}/refunds", a.requireAuth(a.handleSaleRefunds, staff...))
	mux.HandleFunc("/api/v1/sales/{id}/receipt", a.requireAuth(a.handleSaleReceipt, staff...))
	mux.HandleFunc("/api/v1/refunds", a.requireAuth(a.handleRefunds, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req LoginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveAccount) {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token clients send as X-CSRF-Token on
// every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		a.handleSaveProduct(w, r)
		return
	default:
		writeMethodNotAllowed(w)
		return
	}
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]map[string]any, 0, len(products))
	for _, p := range products {
		items = append(items, map[string]any{
			"product":      p,
			"stock_status": p.StockStatus(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": items})
}

func (a *API) handleSaveProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	product, err := a.service.SaveProduct(r.Context(), domain.Product{
		ID:             req.ID,
		Name:           req.Name,
		ImageURL:       req.ImageURL,
		UnitPriceCents: req.UnitPriceCents,
		CostPriceCents: req.CostPriceCents,
		CurrentStock:   req.CurrentStock,
		MinStock:       req.MinStock,
		WeightPriced:   req.WeightPriced,
		QtyIncrement:   req.QtyIncrement,
		Active:         active,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product":      product,
		"stock_status": product.StockStatus(),
	})
}

func (a *API) handleProductStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req stockAdjustmentRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	product, err := a.service.AdjustStock(r.Context(), r.PathValue("product"), req.Delta, req.Reason)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product":      product,
		"stock_status": product.StockStatus(),
	})
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := a.service.GetSettings(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req settingsRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		settings, err := a.service.UpdateSettings(r.Context(), domain.TenantSettings{
			TaxRate:        req.TaxRate,
			MaxOrders:      req.MaxOrders,
			CurrencySymbol: req.CurrencySymbol,
		})
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	registerID := r.PathValue("register")
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.GetCart(r.Context(), registerID)
		a.respondCart(w, view, err)
	case http.MethodDelete:
		view, err := a.service.ClearCart(r.Context(), registerID)
		a.respondCart(w, view, err)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req addItemRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	view, err := a.service.AddToCart(r.Context(), r.PathValue("register"), req.ProductID, req.Quantity)
	a.respondCart(w, view, err)
}

func (a *API) handleCartItem(w http.ResponseWriter, r *http.Request) {
	registerID := r.PathValue("register")
	productID := r.PathValue("product")
	switch r.Method {
	case http.MethodPatch:
		var req updateQuantityRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		view, err := a.service.UpdateCartQuantity(r.Context(), registerID, productID, req.Delta)
		a.respondCart(w, view, err)
	case http.MethodDelete:
		view, err := a.service.RemoveCartItem(r.Context(), registerID, productID)
		a.respondCart(w, view, err)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request) {
	registerID := r.PathValue("register")
	switch r.Method {
	case http.MethodPut:
		var req discountRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		view, err := a.service.SetCartDiscount(r.Context(), registerID, &domain.Discount{Type: req.Type, Value: req.Value})
		a.respondCart(w, view, err)
	case http.MethodDelete:
		view, err := a.service.SetCartDiscount(r.Context(), registerID, nil)
		a.respondCart(w, view, err)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req customerRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	view, err := a.service.SetCartCustomer(r.Context(), r.PathValue("register"), req.CustomerID)
	a.respondCart(w, view, err)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req checkoutRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := a.service.CheckoutCart(r.Context(), r.PathValue("register"), service.CheckoutRequest{
		PaymentMethod: req.PaymentMethod,
		ShiftID:       req.ShiftID,
		CustomerID:    req.CustomerID,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req holdRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	held, err := a.service.HoldCart(r.Context(), r.PathValue("register"), req.Note)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, held)
}

func (a *API) handleHeldOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.service.ListHeldOrders(r.Context(), r.URL.Query().Get("register_id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleHeldOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteHeldOrder(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRecall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req recallRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	view, err := a.service.RecallHeldOrder(r.Context(), req.RegisterID, r.PathValue("id"))
	a.respondCart(w, view, err)
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	detail, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleSaleRefunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	summary, err := a.service.GetSaleRefunds(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSaleReceipt returns the rendered receipt as JSON, or as plain text
// for printers when format=text.
func (a *API) handleSaleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	receipt, err := a.service.PrintReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(receipt.Text))
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleRefunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req refundRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if !a.pinLimiter.Allow("pin:refund:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	items := make([]pos.RefundItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, pos.RefundItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	refund, err := a.service.Refund(r.Context(), service.RefundRequest{
		SaleID: req.SaleID,
		Items:  items,
		Reason: req.Reason,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req CashierCreateRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	user, err := a.auth.CreateCashier(r.Context(), actor.TenantID, req)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			writeError(w, http.StatusBadRequest, errors.New("invalid cashier account"))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) respondCart(w http.ResponseWriter, view service.CartView, err error) {
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// statusFor maps engine and session errors onto HTTP statuses. Anything not
// listed is an internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pos.ErrSaleNotFound),
		errors.Is(err, pos.ErrHeldOrderNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pos.ErrOrderLimitExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, cart.ErrExceedsStock),
		errors.Is(err, service.ErrCartNotEmpty),
		errors.Is(err, lock.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pos.ErrValidation),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidDiscount),
		errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := validateRequest(dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides 5xx details; 4xx messages are meant for the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
