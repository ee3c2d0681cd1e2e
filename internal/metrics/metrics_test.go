package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.CheckoutCompleted(1500)
	m.CheckoutCompleted(500)
	m.CheckoutRejected("order_limit")
	m.RefundCompleted(700)
	m.HeldOrder("hold")
	m.StockWarning()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("order_limit")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.salesCents))
	assert.Equal(t, 700.0, testutil.ToFloat64(m.refundCents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heldOrders.WithLabelValues("hold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stockWarnings))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CheckoutCompleted(1)
	m.RefundRejected("x")
	m.ObserveRequest(http.MethodGet, "/", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodPost, "/api/v1/refunds", 201, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_requests_total{method="POST",path="/api/v1/refunds",status="201"} 1`)
}
