package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ticket-redemption/internal/status"
)

var (
	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by topic and processing outcome",
		},
		[]string{"topic", "outcome"},
	)

	reconciliationUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_units_total",
			Help: "Ticket unit outcomes produced by reconciliation passes",
		},
		[]string{"outcome"},
	)

	redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Check-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	importRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_import_runs_total",
			Help: "Bulk import executions by outcome",
		},
		[]string{"outcome"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream order platform calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation", "outcome"},
	)
)

// TrackWebhookEvent records one webhook delivery outcome.
func TrackWebhookEvent(topic, outcome string) {
	webhookEvents.WithLabelValues(topic, outcome).Inc()
}

// TrackReconciliation records n unit outcomes of one reconciliation pass.
func TrackReconciliation(outcome string, n int) {
	if n > 0 {
		reconciliationUnits.WithLabelValues(outcome).Add(float64(n))
	}
}

// TrackRedemption records one check-in attempt outcome.
func TrackRedemption(outcome string) {
	redemptions.WithLabelValues(outcome).Inc()
}

// TrackImportRun records one bulk import run outcome.
func TrackImportRun(outcome string) {
	importRuns.WithLabelValues(outcome).Inc()
}

// TrackUpstreamRequest records latency and outcome of one upstream call.
func TrackUpstreamRequest(operation string, err error, duration time.Duration) {
	outcome := "ok"
	switch {
	case err == nil:
	case status.IsTransient(err):
		outcome = "transient"
	default:
		outcome = "error"
	}
	upstreamRequestDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}
