// Package metrics exposes the saga's Prometheus metrics. Router and pub/sub
// metrics come from Watermill's metrics builder; this package adds the
// saga-level counters on the same registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SagaMetrics counts saga lifecycle events. A nil *SagaMetrics is valid and
// records nothing, so components can take it optionally.
type SagaMetrics struct {
	sagasStarted       prometheus.Counter
	sagasCompleted     prometheus.Counter
	sagasFailed        prometheus.Counter
	sagasCompensated   prometheus.Counter
	timeoutsFired      prometheus.Counter
	retriesScheduled   prometheus.Counter
	eventsDeadLettered prometheus.Counter
	stepDuration       *prometheus.HistogramVec
}

// NewSagaMetrics registers the saga metrics on reg.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	factory := promauto.With(reg)

	return &SagaMetrics{
		sagasStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "sagas_started_total",
			Help:      "Number of sagas started",
		}),
		sagasCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "sagas_completed_total",
			Help:      "Number of sagas finished in SAGA_COMPLETED",
		}),
		sagasFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "sagas_failed_total",
			Help:      "Number of sagas finished in SAGA_FAILED",
		}),
		sagasCompensated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "sagas_compensated_total",
			Help:      "Number of sagas that ran a compensation",
		}),
		timeoutsFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "step_timeouts_fired_total",
			Help:      "Number of step timeouts that fired",
		}),
		retriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "step_retries_scheduled_total",
			Help:      "Number of step retries scheduled",
		}),
		eventsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ordersaga",
			Name:      "events_dead_lettered_total",
			Help:      "Number of events captured on the dead-letter path",
		}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ordersaga",
			Name:      "step_duration_seconds",
			Help:      "Time a saga spent in one step",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step"}),
	}
}

func (m *SagaMetrics) SagaStarted() {
	if m != nil {
		m.sagasStarted.Inc()
	}
}

func (m *SagaMetrics) SagaCompleted() {
	if m != nil {
		m.sagasCompleted.Inc()
	}
}

func (m *SagaMetrics) SagaFailed() {
	if m != nil {
		m.sagasFailed.Inc()
	}
}

func (m *SagaMetrics) SagaCompensated() {
	if m != nil {
		m.sagasCompensated.Inc()
	}
}

func (m *SagaMetrics) TimeoutFired() {
	if m != nil {
		m.timeoutsFired.Inc()
	}
}

func (m *SagaMetrics) RetryScheduled() {
	if m != nil {
		m.retriesScheduled.Inc()
	}
}

func (m *SagaMetrics) EventDeadLettered() {
	if m != nil {
		m.eventsDeadLettered.Inc()
	}
}

func (m *SagaMetrics) ObserveStep(step string, d time.Duration) {
	if m != nil {
		m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	}
}
