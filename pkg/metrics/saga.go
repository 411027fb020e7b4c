package metrics

import "github.com/prometheus/client_golang/prometheus"

// SagaMetrics tracks terminal saga outcomes.
type SagaMetrics struct {
	completed            prometheus.Counter
	failed               *prometheus.CounterVec
	compensationStranded prometheus.Counter
}

// NewSagaMetrics registers the saga metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_completed_total",
		Help: "Order-creation sagas that reached COMPLETED.",
	})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_failed_total",
		Help: "Order-creation sagas that terminated FAILED.",
	}, []string{"failed_step"})
	stranded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_compensation_incomplete_total",
		Help: "Sagas that terminated FAILED with unresolved side effects.",
	})
	reg.MustRegister(completed, failed, stranded)
	return &SagaMetrics{
		completed:            completed,
		failed:               failed,
		compensationStranded: stranded,
	}
}

// IncCompleted increments the completed counter.
func (m *SagaMetrics) IncCompleted() {
	if m == nil || m.completed == nil {
		return
	}
	m.completed.Inc()
}

// IncFailed increments the failed counter for the step that broke the saga.
func (m *SagaMetrics) IncFailed(failedStep string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(failedStep)).Inc()
}

// IncCompensationIncomplete increments the manual-reconciliation counter.
func (m *SagaMetrics) IncCompensationIncomplete() {
	if m == nil || m.compensationStranded == nil {
		return
	}
	m.compensationStranded.Inc()
}
