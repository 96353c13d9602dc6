package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics records webhook, transfer and job outcomes.
type ReconciliationMetrics struct {
	webhookEvents *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobOutcomes   *prometheus.CounterVec
}

// NewReconciliationMetrics registers the reconciliation metrics on the provided registerer.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processed provider webhook events by type and outcome.",
	}, []string{"event", "outcome"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "njord_transfers_total",
		Help: "External ledger transfer attempts by result.",
	}, []string{"result"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Duration of worker job executions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	jobOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_job_outcomes_total",
		Help: "Worker job executions by type and terminal status.",
	}, []string{"type", "status"})
	reg.MustRegister(webhookEvents, transfers, jobDuration, jobOutcomes)
	return &ReconciliationMetrics{
		webhookEvents: webhookEvents,
		transfers:     transfers,
		jobDuration:   jobDuration,
		jobOutcomes:   jobOutcomes,
	}
}

// IncWebhookEvent counts one processed webhook event.
func (m *ReconciliationMetrics) IncWebhookEvent(event, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// IncTransfer counts one transfer attempt result.
func (m *ReconciliationMetrics) IncTransfer(result string) {
	if m == nil || m.transfers == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveJob records the duration of a job execution.
func (m *ReconciliationMetrics) ObserveJob(jobType string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(normalizeLabel(jobType)).Observe(duration.Seconds())
}

// IncJobOutcome counts one terminal job transition.
func (m *ReconciliationMetrics) IncJobOutcome(jobType, status string) {
	if m == nil || m.jobOutcomes == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(normalizeLabel(jobType), normalizeLabel(status)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
