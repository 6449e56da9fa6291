// Package metrics exposes Prometheus counters for the iteration runtime.
//
// Every method is safe on a nil *Metrics so callers can run without metrics
// wiring.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "icl"

// Metrics holds the collectors for one runtime. Each instance owns its
// registry so concurrent iterations and tests never share state.
type Metrics struct {
	registry *prometheus.Registry

	cycles             prometheus.Counter
	actionsDispatched  *prometheus.CounterVec
	actionsSkipped     *prometheus.CounterVec
	llmCalls           *prometheus.CounterVec
	llmRetries         prometheus.Counter
	llmDuration        *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
	artifactsPersisted *prometheus.CounterVec
	refinements        prometheus.Counter
	edgesExhausted     prometheus.Counter
}

// New creates and registers a fresh set of collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cycles_total",
			Help:      "Planner cycles executed.",
		}),
		actionsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_dispatched_total",
			Help:      "Actions dispatched, by relation category.",
		}, []string{"category"}),
		actionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_skipped_total",
			Help:      "Actions skipped by the user, by relation category.",
		}, []string{"category"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM invocations, by binding and outcome.",
		}, []string{"binding", "outcome"}),
		llmRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "LLM attempts retried after a transient failure.",
		}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Wall time of a single LLM attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"binding"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Responses rejected by parsing or schema validation, by kind.",
		}, []string{"kind"}),
		artifactsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_persisted_total",
			Help:      "Artifacts written to the store, by kind.",
		}, []string{"kind"}),
		refinements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refinement_attempts_total",
			Help:      "Correction attempts inside the refinement sub-loop.",
		}),
		edgesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_exhausted_total",
			Help:      "Relations that used up their retry budget.",
		}),
	}
	m.registry.MustRegister(
		m.cycles,
		m.actionsDispatched,
		m.actionsSkipped,
		m.llmCalls,
		m.llmRetries,
		m.llmDuration,
		m.validationFailures,
		m.artifactsPersisted,
		m.refinements,
		m.edgesExhausted,
	)
	return m
}

// Registry returns the underlying gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Cycle counts one planner cycle.
func (m *Metrics) Cycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// ActionDispatched counts a dispatched action.
func (m *Metrics) ActionDispatched(category string) {
	if m == nil {
		return
	}
	m.actionsDispatched.WithLabelValues(category).Inc()
}

// ActionSkipped counts a vetoed action.
func (m *Metrics) ActionSkipped(category string) {
	if m == nil {
		return
	}
	m.actionsSkipped.WithLabelValues(category).Inc()
}

// LLMCall records one attempt against a binding.
func (m *Metrics) LLMCall(binding, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(binding, outcome).Inc()
	m.llmDuration.WithLabelValues(binding).Observe(d.Seconds())
}

// LLMRetry counts a retried attempt.
func (m *Metrics) LLMRetry() {
	if m == nil {
		return
	}
	m.llmRetries.Inc()
}

// ValidationFailure counts a rejected response for a kind.
func (m *Metrics) ValidationFailure(kind string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(kind).Inc()
}

// ArtifactPersisted counts a store write.
func (m *Metrics) ArtifactPersisted(kind string) {
	if m == nil {
		return
	}
	m.artifactsPersisted.WithLabelValues(kind).Inc()
}

// Refinement counts a correction attempt.
func (m *Metrics) Refinement() {
	if m == nil {
		return
	}
	m.refinements.Inc()
}

// EdgeExhausted counts a relation that ran out of retries.
func (m *Metrics) EdgeExhausted() {
	if m == nil {
		return
	}
	m.edgesExhausted.Inc()
}

// WriteTextfile dumps the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
