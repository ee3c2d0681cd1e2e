// Package metrics exposes Prometheus collectors for the POS engine and its
// HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	checkouts       *prometheus.CounterVec
	salesCents      prometheus.Counter
	refunds         *prometheus.CounterVec
	refundCents     prometheus.Counter
	heldOrders      *prometheus.CounterVec
	stockWarnings   prometheus.Counter
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_checkouts_total",
			Help: "Checkout attempts by outcome",
		}, []string{"outcome"}),
		salesCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sales_amount_cents_total",
			Help: "Grand total of completed sales in minor units",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_refunds_total",
			Help: "Refund attempts by outcome",
		}, []string{"outcome"}),
		refundCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_refund_amount_cents_total",
			Help: "Refunded amount in minor units",
		}),
		heldOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_held_orders_total",
			Help: "Held order transitions by action",
		}, []string{"action"}),
		stockWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_stock_warnings_total",
			Help: "Checkout lines that exceeded available stock",
		}),
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkouts,
		m.salesCents,
		m.refunds,
		m.refundCents,
		m.heldOrders,
		m.stockWarnings,
		m.requestCounter,
		m.requestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CheckoutCompleted(grandTotalCents int64) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues("completed").Inc()
	m.salesCents.Add(float64(grandTotalCents))
}

func (m *Metrics) CheckoutRejected(reason string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) RefundCompleted(totalCents int64) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues("completed").Inc()
	m.refundCents.Add(float64(totalCents))
}

func (m *Metrics) RefundRejected(reason string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(reason).Inc()
}

func (m *Metrics) HeldOrder(action string) {
	if m == nil {
		return
	}
	m.heldOrders.WithLabelValues(action).Inc()
}

func (m *Metrics) StockWarning() {
	if m == nil {
		return
	}
	m.stockWarnings.Inc()
}

// ObserveRequest records one HTTP request. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method string, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestCounter.WithLabelValues(method, path, code).Inc()
	m.requestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}
