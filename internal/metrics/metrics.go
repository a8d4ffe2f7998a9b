// Package metrics exposes prometheus collectors for the matching engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blitz"

type Metrics struct {
	registry *prometheus.Registry

	orders         *prometheus.CounterVec
	trades         *prometheus.CounterVec
	tradedQuantity *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	cancels        *prometheus.CounterVec
	books          prometheus.Gauge
	matchLatency   prometheus.Histogram
}

// New registers every collector on a fresh registry, so several instances
// can live side by side in tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		orders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Orders handed to the engine, by type and side.",
		}, []string{"type", "side"}),
		trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executions produced by the matching loop.",
		}, []string{"security"}),
		tradedQuantity: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Units executed.",
		}, []string{"security"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Orders rejected by the engine, by reason.",
		}, []string{"reason"}),
		cancels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Cancel requests, by whether an order was removed.",
		}, []string{"result"}),
		books: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_books",
			Help:      "Instruments with a live order book.",
		}),
		matchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent inside a single order placement.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) OrderProcessed(orderType, side string, took time.Duration) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(orderType, side).Inc()
	m.matchLatency.Observe(took.Seconds())
}

func (m *Metrics) Traded(securityID string, quantity int64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(securityID).Inc()
	m.tradedQuantity.WithLabelValues(securityID).Add(float64(quantity))
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Cancelled(removed bool) {
	if m == nil {
		return
	}
	result := "missed"
	if removed {
		result = "removed"
	}
	m.cancels.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBooks(n int) {
	if m == nil {
		return
	}
	m.books.Set(float64(n))
}
