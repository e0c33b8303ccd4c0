package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	refunds        prometheus.Counter
	stockRestored  prometheus.Counter
	publishFailure prometheus.Counter
	idempotentHits prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "operations_total",
			Help:      "Order lifecycle operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in an order lifecycle operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "wallet",
			Name:      "refunded_amount_total",
			Help:      "Money credited back to wallets.",
		}),
		stockRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "inventory",
			Name:      "units_restored_total",
			Help:      "Units returned to stock by cancellations and returns.",
		}),
		publishFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Lifecycle events that could not be published.",
		}),
		idempotentHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from the idempotency store.",
		}),
	}

	reg.MustRegister(
		m.operations, m.duration, m.refunds, m.stockRestored, m.publishFailure, m.idempotentHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOperation records one finished operation. A nil receiver is a no-op
// so tests can run without metrics.
func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) AddRefund(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.refunds.Add(amount)
}

func (m *Metrics) AddStockRestored(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.stockRestored.Add(float64(units))
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailure.Inc()
}

func (m *Metrics) IncIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentHits.Inc()
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
