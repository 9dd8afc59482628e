// Package metrics provides Prometheus metrics for the routing engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	InstructionsTotal   *prometheus.CounterVec
	InstructionDuration *prometheus.HistogramVec
	PushAttempts        *prometheus.HistogramVec
	AccessDeniedTotal   *prometheus.CounterVec
	RepositoriesActive  prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		InstructionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repomux_instructions_total",
				Help: "Total instructions processed by intent and status.",
			},
			[]string{"intent", "status"},
		),
		InstructionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repomux_instruction_duration_seconds",
				Help:    "Instruction processing duration by intent.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		PushAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repomux_push_attempts",
				Help:    "Push invocations needed per instruction, by final status.",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"status"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repomux_access_denied_total",
				Help: "Access denials by repository and reason.",
			},
			[]string{"repository", "reason"},
		),
		RepositoriesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repomux_repositories_registered",
				Help: "Number of repositories in the registry.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repomux_errors_total",
				Help: "Total errors by module and code.",
			},
			[]string{"module", "code"},
		),
		registry: reg,
	}

	reg.MustRegister(m.InstructionsTotal)
	reg.MustRegister(m.InstructionDuration)
	reg.MustRegister(m.PushAttempts)
	reg.MustRegister(m.AccessDeniedTotal)
	reg.MustRegister(m.RepositoriesActive)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInstruction increments the instruction counter.
func (m *Metrics) RecordInstruction(intent, status string) {
	m.InstructionsTotal.WithLabelValues(intent, status).Inc()
}

// ObserveDuration records instruction processing duration.
func (m *Metrics) ObserveDuration(intent string, seconds float64) {
	m.InstructionDuration.WithLabelValues(intent).Observe(seconds)
}

// ObservePushAttempts records how many push invocations one
// instruction needed.
func (m *Metrics) ObservePushAttempts(status string, attempts int) {
	m.PushAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordAccessDenied increments the denial counter.
func (m *Metrics) RecordAccessDenied(repository, reason string) {
	m.AccessDeniedTotal.WithLabelValues(repository, reason).Inc()
}

// SetRepositories sets the registered repository gauge.
func (m *Metrics) SetRepositories(count int) {
	m.RepositoriesActive.Set(float64(count))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, code string) {
	m.ErrorsTotal.WithLabelValues(module, code).Inc()
}
