package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IntakeMetrics records per-category intake counters. It is injected into the
// intake processor rather than living as package state, so tests can register
// their own instance (or none at all).
type IntakeMetrics struct {
	received   *prometheus.CounterVec
	ignored    *prometheus.CounterVec
	duplicates prometheus.Counter
}

// NewIntakeMetrics registers the intake metrics on the provided registerer.
func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	if reg == nil {
		return &IntakeMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "life_events_received",
		Help: "Life events received from the registry stream.",
	}, []string{"category", "change_kind"})
	ignored := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "life_events_ignored",
		Help: "Life events dropped by a category validation rule.",
	}, []string{"category"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "life_events_duplicate",
		Help: "Life events already stored under the same (event id, category).",
	})
	reg.MustRegister(received, ignored, duplicates)
	return &IntakeMetrics{
		received:   received,
		ignored:    ignored,
		duplicates: duplicates,
	}
}

// IncReceived increments the received counter for a category and change kind.
func (m *IntakeMetrics) IncReceived(category, changeKind string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(category), normalizeLabel(changeKind)).Inc()
}

// IncIgnored increments the ignored counter for a category.
func (m *IntakeMetrics) IncIgnored(category string) {
	if m == nil || m.ignored == nil {
		return
	}
	m.ignored.WithLabelValues(normalizeLabel(category)).Inc()
}

// IncDuplicate increments the duplicate counter.
func (m *IntakeMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}
