// Package metrics exposes routing outcomes as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zen-systems/helpgate/pkg/router"
)

const namespace = "helpgate"

// Metrics implements router.Observer on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	escalations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	faqMatches  *prometheus.CounterVec
	confidence  prometheus.Histogram
	tokens      prometheus.Counter
}

var _ router.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by answer source and escalation verdict.",
		}, []string{"source", "escalate"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalations by reason tag.",
		}, []string{"reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generation failures by kind.",
		}, []string{"kind"}),
		faqMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faq_matches_total",
			Help:      "Accepted FAQ matches by match stage.",
		}, []string{"stage"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_confidence",
			Help:      "Confidence of routing decisions.",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Tokens reported by generation backends.",
		}),
	}
	reg.MustRegister(
		m.decisions,
		m.escalations,
		m.failures,
		m.faqMatches,
		m.confidence,
		m.tokens,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(d *router.Decision) {
	if d == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Source), strconv.FormatBool(d.Escalate)).Inc()
	m.confidence.Observe(d.Confidence)
	if d.Escalate {
		m.escalations.WithLabelValues(string(d.Reason)).Inc()
	}
}

func (m *Metrics) ObserveFAQMatch(stage string) {
	m.faqMatches.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveGenerationFailure(kind string) {
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTokens(n int) {
	if n > 0 {
		m.tokens.Add(float64(n))
	}
}
