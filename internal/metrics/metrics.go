// ABOUTME: Prometheus collectors for saved-doc operations, sessions and change deliveries
// ABOUTME: Uses a private registry; every method is safe to call on a nil *Metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	subscribers     prometheus.Gauge
	deliveries      prometheus.Counter
	openConnections prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savedoc_operations_total",
				Help: "Total number of saved-doc operations by method and result",
			},
			[]string{"method", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "savedoc_operation_duration_seconds",
				Help:    "Histogram of saved-doc operation durations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "savedoc_subscribers",
			Help: "Number of attached change listeners",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savedoc_deliveries_total",
			Help: "Total number of change events delivered to sessions",
		}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "savedoc_open_connections",
			Help: "Number of connections with a live document store",
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.subscribers,
		m.deliveries,
		m.openConnections,
	)
	return m
}

// ObserveOperation records one finished operation
func (m *Metrics) ObserveOperation(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(method, result).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// SubscriberAdded increments the subscriber gauge
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberRemoved decrements the subscriber gauge
func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

// Delivered counts one change event handed to a session
func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

// SetOpenConnections sets the live store gauge
func (m *Metrics) SetOpenConnections(n int) {
	if m == nil {
		return
	}
	m.openConnections.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
