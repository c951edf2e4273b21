// Package metrics exposes Prometheus collectors for sync, reconciliation
// and index maintenance. Collectors register with the default registry and
// are served by the dashboard at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSyncRunsTotal,
			Help: HelpTextSyncRunsTotal,
		},
		[]string{LabelOutcome},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameSyncDuration,
			Help:    HelpTextSyncDuration,
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	ItemsFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameItemsFetchedTotal,
			Help: HelpTextItemsFetchedTotal,
		},
	)

	SyncCursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameSyncCursor,
			Help: HelpTextSyncCursor,
		},
	)
)

// Reconciliation metrics
var (
	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameReconcileRunsTotal,
			Help: HelpTextReconcileRunsTotal,
		},
		[]string{LabelOutcome},
	)

	ReconcileActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameReconcileActions,
			Help: HelpTextReconcileActions,
		},
		[]string{LabelKind, LabelResult},
	)
)

// Index and notes metrics
var (
	IndexEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameIndexEventsTotal,
			Help: HelpTextIndexEventsTotal,
		},
		[]string{LabelType},
	)

	IndexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameIndexEntries,
			Help: HelpTextIndexEntries,
		},
	)

	NotesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameNotesCreatedTotal,
			Help: HelpTextNotesCreatedTotal,
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHTTPRequestsTotal,
			Help: HelpTextHTTPRequestsTotal,
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameHTTPRequestDuration,
			Help:    HelpTextHTTPRequestDuration,
			Buckets: prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameHTTPRequestsInFlight,
			Help: HelpTextHTTPRequestsInFlight,
		},
	)
)
