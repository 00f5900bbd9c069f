package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOrderMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)

	m.ObservePlacement("transactional", "success")
	m.ObservePlacement("transactional", "success")
	m.ObservePlacement("best_effort", "insufficient_stock")
	m.ObserveRefund("transactional", "success")
	m.IncWarning("audit")
	m.IncFallback()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "canteen_order_placements_total", "outcome", "success"); err != nil {
		t.Fatalf("fetch placements: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 successful placements, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "canteen_order_placements_total", "outcome", "insufficient_stock"); err != nil {
		t.Fatalf("fetch placements: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 stock failure, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "canteen_refunds_total", "mode", "transactional"); err != nil {
		t.Fatalf("fetch refunds: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 refund, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "canteen_partial_failure_warnings_total", "step", "audit"); err != nil {
		t.Fatalf("fetch warnings: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 warning, got %f", got)
	}
	if mf := findMetricFamily(mfs, "canteen_uow_fallback_activations_total"); mf == nil {
		t.Fatalf("fallback counter not exported")
	} else if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 fallback, got %f", got)
	}
}

func TestOrderMetricsNilSafe(t *testing.T) {
	var m *OrderMetrics
	m.ObservePlacement("x", "y")
	m.ObserveRefund("x", "y")
	m.IncWarning("x")
	m.IncFallback()

	unregistered := NewOrderMetrics(nil)
	unregistered.IncFallback()
}
