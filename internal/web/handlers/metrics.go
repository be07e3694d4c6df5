package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exported on /metrics
type Metrics struct {
	MatchOutcomes   *prometheus.CounterVec
	DuplicateGroups prometheus.Gauge
	Merges          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locations",
			Name:      "match_outcomes_total",
			Help:      "Match requests by resulting status and tier.",
		}, []string{"status", "reason"}),
		DuplicateGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "locations",
			Name:      "duplicate_groups",
			Help:      "Duplicate groups found by the most recent scan.",
		}),
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locations",
			Name:      "merges_total",
			Help:      "Merge plans applied, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.MatchOutcomes, m.DuplicateGroups, m.Merges)
	return m
}
