// Package metrics provides Prometheus metrics for the visit detail service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load outcomes used as the "outcome" label
const (
	OutcomeLoaded = "loaded"
	OutcomeEmpty  = "empty"
	OutcomeError  = "error"
)

// Metrics holds all application metrics
type Metrics struct {
	ViewLoads           *prometheus.CounterVec
	LoadDuration        prometheus.Histogram
	StaleResults        prometheus.Counter
	Retries             prometheus.Counter
	Notifications       *prometheus.CounterVec
	BackendRequests     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ViewLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visit_view_loads_total",
			Help: "Visit view loads by outcome",
		}, []string{"outcome"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visit_view_load_duration_seconds",
			Help:    "Time from Loading to a settled view state",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visit_view_stale_results_total",
			Help: "Load results discarded because a newer load superseded them",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visit_view_retries_total",
			Help: "Retries issued from the error state",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visit_notifications_total",
			Help: "Transient notifications raised, by sink",
		}, []string{"sink"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visit_backend_requests_total",
			Help: "Visit backend reads by HTTP status",
		}, []string{"status"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.ViewLoads,
		m.LoadDuration,
		m.StaleResults,
		m.Retries,
		m.Notifications,
		m.BackendRequests,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves metrics from a specific gatherer
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
