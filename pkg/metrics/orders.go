package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrderMetrics tracks the placement and refund engines.
type OrderMetrics struct {
	placements *prometheus.CounterVec
	refunds    *prometheus.CounterVec
	warnings   *prometheus.CounterVec
	fallbacks  prometheus.Counter
}

// NewOrderMetrics registers the order metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_order_placements_total",
		Help: "Order placement attempts by unit-of-work mode and outcome.",
	}, []string{"mode", "outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_refunds_total",
		Help: "Refunds by unit-of-work mode and outcome.",
	}, []string{"mode", "outcome"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_partial_failure_warnings_total",
		Help: "Soft failures tolerated inside a unit of work, by step.",
	}, []string{"step"})
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canteen_uow_fallback_activations_total",
		Help: "Times the unit of work switched to best-effort mode.",
	})
	reg.MustRegister(placements, refunds, warnings, fallbacks)
	return &OrderMetrics{
		placements: placements,
		refunds:    refunds,
		warnings:   warnings,
		fallbacks:  fallbacks,
	}
}

// ObservePlacement counts one placement attempt.
func (m *OrderMetrics) ObservePlacement(mode, outcome string) {
	if m == nil || m.placements == nil {
		return
	}
	m.placements.WithLabelValues(normalizeLabel(mode), normalizeLabel(outcome)).Inc()
}

// ObserveRefund counts one refund attempt.
func (m *OrderMetrics) ObserveRefund(mode, outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(mode), normalizeLabel(outcome)).Inc()
}

// IncWarning counts a tolerated partial failure.
func (m *OrderMetrics) IncWarning(step string) {
	if m == nil || m.warnings == nil {
		return
	}
	m.warnings.WithLabelValues(normalizeLabel(step)).Inc()
}

// IncFallback counts a switch to best-effort mode.
func (m *OrderMetrics) IncFallback() {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Inc()
}
