package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the relay's Prometheus collectors on a private registry.
// All methods are nil-safe so components can run without metrics in tests.
type Metrics struct {
	registry        *prometheus.Registry
	alerts          *prometheus.CounterVec
	orders          *prometheus.CounterVec
	exchangeLatency *prometheus.HistogramVec
	envFlips        prometheus.Counter
	catalogRefresh  *prometheus.CounterVec
}

// NewMetrics creates a registry and registers relay metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_alerts_total",
		Help: "Webhook alerts handled, by action and outcome.",
	}, []string{"action", "outcome"})

	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_orders_total",
		Help: "Orders submitted to the exchange.",
	}, []string{"side", "intent", "mode"})

	exchangeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_exchange_request_seconds",
		Help:    "Latency of exchange REST calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	envFlips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_environment_flips_total",
		Help: "Sandbox strategy flips after an environment mismatch.",
	})

	catalogRefresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_catalog_refresh_total",
		Help: "Contract catalog refreshes by result (ok, stale, snapshot, error).",
	}, []string{"result"})

	registry.MustRegister(alerts, orders, exchangeLatency, envFlips, catalogRefresh)

	return &Metrics{
		registry:        registry,
		alerts:          alerts,
		orders:          orders,
		exchangeLatency: exchangeLatency,
		envFlips:        envFlips,
		catalogRefresh:  catalogRefresh,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAlert counts a handled alert.
func (m *Metrics) RecordAlert(action, outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(action, outcome).Inc()
}

// RecordOrder counts a submitted order.
func (m *Metrics) RecordOrder(side, intent, mode string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, intent, mode).Inc()
}

// ObserveExchangeLatency records one exchange round trip.
func (m *Metrics) ObserveExchangeLatency(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchangeLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordEnvironmentFlip counts a negotiator flip.
func (m *Metrics) RecordEnvironmentFlip() {
	if m == nil {
		return
	}
	m.envFlips.Inc()
}

// RecordCatalogRefresh counts a catalog refresh outcome.
func (m *Metrics) RecordCatalogRefresh(result string) {
	if m == nil {
		return
	}
	m.catalogRefresh.WithLabelValues(result).Inc()
}
