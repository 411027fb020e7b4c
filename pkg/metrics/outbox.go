package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks relay delivery outcomes. The dead-letter counter backs
// the operational alert for events that exhausted their attempts.
type OutboxMetrics struct {
	published  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	deadletter *prometheus.CounterVec
}

// NewOutboxMetrics registers the relay metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox events acknowledged by the broker.",
	}, []string{"topic"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"topic"})
	deadletter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox events moved to the DLQ after exhausting attempts.",
	}, []string{"topic"})
	reg.MustRegister(published, failed, deadletter)
	return &OutboxMetrics{
		published:  published,
		failed:     failed,
		deadletter: deadletter,
	}
}

// IncPublished increments the acknowledged delivery counter.
func (m *OutboxMetrics) IncPublished(topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncFailed increments the retryable failure counter.
func (m *OutboxMetrics) IncFailed(topic string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncDeadLettered increments the terminal failure counter.
func (m *OutboxMetrics) IncDeadLettered(topic string) {
	if m == nil || m.deadletter == nil {
		return
	}
	m.deadletter.WithLabelValues(normalizeLabel(topic)).Inc()
}
