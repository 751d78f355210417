// Package metrics provides Prometheus metrics for recsched.
//
// No recording IDs or channel URIs in labels; outcomes are the short labels
// produced by recording.Outcome.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// SchedulerCallsTotal counts OS scheduler tool invocations by operation and outcome.
	SchedulerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recsched_scheduler_calls_total",
		Help: "Total number of OS scheduler tool invocations, by operation and outcome.",
	}, []string{"op", "outcome"})

	// SchedulerCallDuration tracks OS scheduler tool latency by operation.
	SchedulerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recsched_scheduler_call_duration_seconds",
		Help:    "Latency of OS scheduler tool invocations, by operation.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"op"})

	// RecordingsTotal counts orchestrator requests by action and outcome.
	RecordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recsched_recordings_total",
		Help: "Total number of recording requests, by action (schedule/cancel/update) and outcome.",
	}, []string{"action", "outcome"})

	// CorruptPayloadsTotal counts OS jobs whose payload could not be decoded.
	CorruptPayloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recsched_corrupt_payloads_total",
		Help: "Total number of scheduled jobs skipped because their payload was corrupt.",
	})

	// PendingRecordings tracks the side-table size after the last listing.
	PendingRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recsched_pending_recordings",
		Help: "Number of recordings pending in the OS scheduler at the last listing.",
	})

	// CatalogReloadsTotal counts catalog loads by result.
	CatalogReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recsched_catalog_reloads_total",
		Help: "Total number of channel catalog loads, by result (success/not_found/malformed/error).",
	}, []string{"result"})

	// MaintenanceRunsTotal counts periodic maintenance job runs by job and result.
	MaintenanceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recsched_maintenance_runs_total",
		Help: "Total number of maintenance job runs, by job and result (ok/error/skipped).",
	}, []string{"job", "result"})

	// CatalogChannels tracks the size of the current catalog.
	CatalogChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recsched_catalog_channels",
		Help: "Number of channels in the current catalog.",
	})
)

// ObserveSchedulerCall records one OS tool invocation.
func ObserveSchedulerCall(op, outcome string, d time.Duration) {
	SchedulerCallsTotal.WithLabelValues(op, outcome).Inc()
	SchedulerCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordRecording increments the orchestrator request counter.
func RecordRecording(action, outcome string) {
	RecordingsTotal.WithLabelValues(action, outcome).Inc()
}

// AddCorruptPayloads adds n corrupt payloads.
func AddCorruptPayloads(n int) {
	if n > 0 {
		CorruptPayloadsTotal.Add(float64(n))
	}
}

// SetPendingRecordings sets the pending gauge.
func SetPendingRecordings(n int) {
	PendingRecordings.Set(float64(n))
}

// RecordCatalogReload increments the reload counter and, on success, sets the size gauge.
func RecordCatalogReload(result string, channels int) {
	CatalogReloadsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		CatalogChannels.Set(float64(channels))
	}
}

// RecordMaintenanceRun increments the maintenance run counter.
func RecordMaintenanceRun(job, result string) {
	MaintenanceRunsTotal.WithLabelValues(job, result).Inc()
}

// GetCatalogChannels returns the current value of the gauge (for testing).
func GetCatalogChannels() float64 {
	var m dto.Metric
	if err := CatalogChannels.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
