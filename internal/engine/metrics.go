package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	interactions *prometheus.CounterVec
	density      *prometheus.GaugeVec
	rulesFired   *prometheus.CounterVec
	unlocks      *prometheus.CounterVec
	syncFailures *prometheus.CounterVec
	diagnostics  *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
// Registering twice on the same registry panics, as with promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		interactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_interactions_total",
			Help: "Total number of recorded interactions",
		}, []string{"area", "category"}),
		density: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reveal_area_density",
			Help: "Current effective density per area",
		}, []string{"area"}),
		rulesFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_rules_fired_total",
			Help: "Number of rule firings",
		}, []string{"rule", "action"}),
		unlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_element_unlocks_total",
			Help: "Number of elements unlocked",
		}, []string{"area"}),
		syncFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_source_failures_total",
			Help: "Number of failed data-source calls",
		}, []string{"source", "op"}),
		diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_diagnostics_total",
			Help: "Number of distinct diagnostics reported",
		}, []string{"kind", "code"}),
	}
}

func (m *Metrics) interaction(area, category string) {
	if m != nil {
		m.interactions.WithLabelValues(area, category).Inc()
	}
}

func (m *Metrics) setDensity(area string, d float64) {
	if m != nil {
		m.density.WithLabelValues(area).Set(d)
	}
}

func (m *Metrics) ruleFired(rule, action string) {
	if m != nil {
		m.rulesFired.WithLabelValues(rule, action).Inc()
	}
}

func (m *Metrics) unlocked(area string) {
	if m != nil {
		m.unlocks.WithLabelValues(area).Inc()
	}
}

func (m *Metrics) sourceFailed(source, op string) {
	if m != nil {
		m.syncFailures.WithLabelValues(source, op).Inc()
	}
}

func (m *Metrics) diagnostic(kind, code string) {
	if m != nil {
		m.diagnostics.WithLabelValues(kind, code).Inc()
	}
}
