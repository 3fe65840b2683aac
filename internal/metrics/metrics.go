// Package metrics holds the Prometheus instruments of the completion
// pipeline and the detective service.
//
// Every Metrics value owns its registry, so tests and multiple servers in one
// process never collide on the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casefile"

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// CallsTotal counts logical calls by model and outcome kind ("ok" on success).
	CallsTotal *prometheus.CounterVec
	// CallDuration measures logical call latency including retries.
	CallDuration *prometheus.HistogramVec
	// AttemptsTotal counts outbound provider attempts by provider and outcome.
	AttemptsTotal *prometheus.CounterVec
	// RetriesTotal counts scheduled retries by provider.
	RetriesTotal *prometheus.CounterVec
	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState prometheus.Gauge
	// BreakerTransitions counts state changes by from and to.
	BreakerTransitions *prometheus.CounterVec
	// ExtractionsTotal counts recovered payloads by strategy.
	ExtractionsTotal *prometheus.CounterVec
	// TokensTotal counts tokens by direction (prompt, completion).
	TokensTotal *prometheus.CounterVec
	// FallbacksTotal counts degraded service responses by operation.
	FallbacksTotal *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "calls_total",
			Help:      "Logical completion calls by model and outcome",
		}, []string{"model", "outcome"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "call_duration_seconds",
			Help:      "Wall clock of one logical completion call including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 200},
		}, []string{"model"}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "attempts_total",
			Help:      "Outbound provider attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "retries_total",
			Help:      "Retries scheduled after a transient failure",
		}, []string{"provider"}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"from", "to"}),
		ExtractionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "payloads_total",
			Help:      "JSON payloads recovered from replies by strategy",
		}, []string{"strategy"}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers by direction",
		}, []string{"direction"}),
		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "fallbacks_total",
			Help:      "Degraded responses served after a failed call",
		}, []string{"operation"}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCall records the outcome and latency of one logical call.
func (m *Metrics) ObserveCall(model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(model, outcome).Inc()
	m.CallDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// ObserveAttempt records one outbound attempt.
func (m *Metrics) ObserveAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveRetry records a scheduled retry.
func (m *Metrics) ObserveRetry(provider string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(provider).Inc()
}

// ObserveTokens adds provider-reported token usage.
func (m *Metrics) ObserveTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	m.TokensTotal.WithLabelValues("completion").Add(float64(completion))
}

// ObserveBreaker records a breaker transition. Modes are passed by their
// numeric value and name.
func (m *Metrics) ObserveBreaker(from, to string, toValue int) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(from, to).Inc()
	m.BreakerState.Set(float64(toValue))
}

// ObserveExtraction records the strategy that located a payload.
func (m *Metrics) ObserveExtraction(strategy string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(strategy).Inc()
}

// ObserveFallback records a degraded service response.
func (m *Metrics) ObserveFallback(operation string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(operation).Inc()
}
