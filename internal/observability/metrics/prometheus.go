// Package metrics provides Prometheus metrics for the EPS harness.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	MessagesBuilt       *prometheus.CounterVec
	BuildErrors         *prometheus.CounterVec
	BuildDuration       *prometheus.HistogramVec
	MessagesSent        *prometheus.CounterVec
	PrescriptionsHeld   prometheus.Gauge
	InboundMessages     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eps_messages_built_total",
			Help: "FHIR messages built, by kind",
		}, []string{"kind"}),
		BuildErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eps_build_errors_total",
			Help: "Rejected build requests, by kind and error class",
		}, []string{"kind", "error"}),
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eps_build_duration_seconds",
			Help:    "Time to build a message",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"kind"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eps_messages_sent_total",
			Help: "Outbound messages, by transport and outcome",
		}, []string{"transport", "outcome"}),
		PrescriptionsHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eps_prescriptions_held",
			Help: "Prescriptions held in the session store",
		}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eps_inbound_messages_total",
			Help: "Released orders consumed from the broker, by outcome",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eps_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.MessagesBuilt,
		m.BuildErrors,
		m.BuildDuration,
		m.MessagesSent,
		m.PrescriptionsHeld,
		m.InboundMessages,
		m.CircuitBreakerState,
	)
	return m
}

// SetBreakerState records a breaker state by its name.
func (m *Metrics) SetBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the HTTP handler exposing g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
