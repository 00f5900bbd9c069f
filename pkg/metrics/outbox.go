package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the outbox relay.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
}

// NewOutboxMetrics registers the relay counters on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_outbox_published_total",
		Help: "Outbox events delivered to Pub/Sub, by topic and event type.",
	}, []string{"topic", "event_type"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_outbox_retries_total",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"topic", "event_type"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_outbox_dead_lettered_total",
		Help: "Outbox events moved to the DLQ, by reason.",
	}, []string{"event_type", "reason"})
	reg.MustRegister(published, retried, deadLettered)
	return &OutboxMetrics{published: published, retried: retried, deadLettered: deadLettered}
}

// IncPublished counts a delivered event.
func (m *OutboxMetrics) IncPublished(topic, eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic), normalizeLabel(eventType)).Inc()
}

// IncRetry counts a failed attempt that stays pending.
func (m *OutboxMetrics) IncRetry(topic, eventType string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(topic), normalizeLabel(eventType)).Inc()
}

// IncDeadLettered counts an event given up on.
func (m *OutboxMetrics) IncDeadLettered(eventType, reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}
