// Package metrics holds the prometheus collectors of the edit engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EditsApplied counts committed edits by edit type
	EditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draft_edits_applied_total",
		Help: "Total edits committed as a new version, by edit type",
	}, []string{"type"})

	// RequestsRejected counts failed API requests by error kind
	RequestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draft_requests_rejected_total",
		Help: "Total API requests answered with an error, by error kind",
	}, []string{"kind"})

	Conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draft_conflicts_total",
		Help: "Total conflicts settled by the resolver",
	})

	Snapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draft_snapshots_total",
		Help: "Total session snapshots written",
	})

	Recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draft_recoveries_total",
		Help: "Total crash recoveries, by source",
	}, []string{"source"})

	// ApplyDuration tracks the time an edit spends in its session actor
	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "draft_apply_duration_seconds",
		Help:    "Edit apply duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	StorageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draft_storage_retries_total",
		Help: "Total retried durable store calls, by operation",
	}, []string{"op"})
)
