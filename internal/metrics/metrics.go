// Package metrics exposes Prometheus instrumentation for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors recorded by the sync and upload paths.
type Metrics struct {
	SyncRuns      *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	TablesSynced  *prometheus.CounterVec
	RowsPulled    *prometheus.CounterVec
	RowsSkipped   *prometheus.CounterVec
	UploadItems   *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	DeadLetters   prometheus.Counter
}

// New creates and registers the sync collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odin_sync",
			Name:      "runs_total",
			Help:      "Sync runs by final result.",
		}, []string{"result"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "odin_sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of full sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		TablesSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odin_sync",
			Name:      "tables_total",
			Help:      "Per-table pull outcomes.",
		}, []string{"table", "outcome"}),
		RowsPulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odin_sync",
			Name:      "rows_pulled_total",
			Help:      "Rows pulled from the cloud store into the local cache.",
		}, []string{"table"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odin_sync",
			Name:      "rows_skipped_total",
			Help:      "Rows skipped during a pull due to per-row failures.",
		}, []string{"table"}),
		UploadItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odin_sync",
			Name:      "upload_items_total",
			Help:      "Offline queue replay outcomes.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "odin_sync",
			Name:      "queue_depth",
			Help:      "Offline queue items awaiting replay.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "odin_sync",
			Name:      "dead_letters_total",
			Help:      "Queue items moved to the dead-letter set.",
		}),
	}

	reg.MustRegister(
		m.SyncRuns,
		m.SyncDuration,
		m.TablesSynced,
		m.RowsPulled,
		m.RowsSkipped,
		m.UploadItems,
		m.QueueDepth,
		m.DeadLetters,
	)
	return m
}
