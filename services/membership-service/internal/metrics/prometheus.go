package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Recorder with counters and a latency histogram.
type Prometheus struct {
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	activations     *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	outboxPublished prometheus.Counter
}

func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "webhook_events_total",
			Help:      "Payment notifications received, by event type and outcome.",
		}, []string{"event_type", "outcome"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Time spent handling a payment notification.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "request_transitions_total",
			Help:      "Membership request status writes, by previous and new status.",
		}, []string{"from", "to"}),

		activations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "activations_total",
			Help:      "Business plan activations, by outcome.",
		}, []string{"outcome"}),

		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "reconcile_activations_total",
			Help:      "Activations repaired by the reconciler, by outcome.",
		}, []string{"outcome"}),

		outboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "outbox_published_total",
			Help:      "Outbox events written to Kafka.",
		}),
	}
}

func (m *Prometheus) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Prometheus) RecordWebhookDuration(eventType string, d time.Duration) {
	m.webhookDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *Prometheus) RecordTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Prometheus) RecordActivation(outcome string) {
	m.activations.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) RecordReconcile(outcome string) {
	m.reconciles.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) RecordOutboxPublished(count int) {
	if count > 0 {
		m.outboxPublished.Add(float64(count))
	}
}
