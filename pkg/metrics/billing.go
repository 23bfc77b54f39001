package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records quota decisions, webhook outcomes, and generation
// latency. A nil-registered instance is a no-op so tests and tools can skip
// metrics wiring.
type BillingMetrics struct {
	quotaDecisions  *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
	generation      *prometheus.HistogramVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	quotaDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_decisions_total",
		Help: "Quota check outcomes by type and decision.",
	}, []string{"quota_type", "decision"})
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	generation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_duration_seconds",
		Help:    "Duration of content generation calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"quota_type"})
	reg.MustRegister(quotaDecisions, webhookOutcomes, generation)
	return &BillingMetrics{
		quotaDecisions:  quotaDecisions,
		webhookOutcomes: webhookOutcomes,
		generation:      generation,
	}
}

// IncQuotaDecision counts a quota check outcome (allowed, denied, degraded).
func (b *BillingMetrics) IncQuotaDecision(quotaType, decision string) {
	if b == nil || b.quotaDecisions == nil {
		return
	}
	b.quotaDecisions.WithLabelValues(normalizeLabel(quotaType), normalizeLabel(decision)).Inc()
}

// IncWebhookOutcome counts a processed webhook event (applied, duplicate, stale, error).
func (b *BillingMetrics) IncWebhookOutcome(eventType, outcome string) {
	if b == nil || b.webhookOutcomes == nil {
		return
	}
	b.webhookOutcomes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveGeneration records the duration of a generation call.
func (b *BillingMetrics) ObserveGeneration(quotaType string, duration time.Duration) {
	if b == nil || b.generation == nil {
		return
	}
	b.generation.WithLabelValues(normalizeLabel(quotaType)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
