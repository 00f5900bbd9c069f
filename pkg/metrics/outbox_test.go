package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.IncPublished("canteen-orders", "order_placed")
	m.IncPublished("canteen-orders", "order_placed")
	m.IncRetry("canteen-ledger", "balance_changed")
	m.IncDeadLettered("", "max_attempts")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "canteen_outbox_published_total", "event_type", "order_placed"); err != nil {
		t.Fatalf("fetch published: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 published, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "canteen_outbox_retries_total", "topic", "canteen-ledger"); err != nil {
		t.Fatalf("fetch retries: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 retry, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "canteen_outbox_dead_lettered_total", "event_type", "unknown"); err != nil {
		t.Fatalf("fetch dead lettered: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 dead-lettered event, got %f", got)
	}
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.IncPublished("t", "e")
	NewOutboxMetrics(nil).IncDeadLettered("e", "r")
}
