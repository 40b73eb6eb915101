// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles every collector the binaries register. Construct one at
// startup and pass it by reference; a nil *Set disables recording.
type Set struct {
	NotificationsReceived prometheus.Counter
	PassesSucceeded       prometheus.Counter
	PassesFailed          prometheus.Counter
	CursorRebaselines     prometheus.Counter
	EventsProcessed       *prometheus.CounterVec
	RulesApplied          *prometheus.CounterVec
	RulesLearned          prometheus.Counter
	SweepDeleted          prometheus.Counter
	SweepArchived         prometheus.Counter
	RequestDuration       *prometheus.HistogramVec
}

// NewSet registers all collectors on the given registerer.
func NewSet(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_notifications_received_total",
			Help: "Push notifications accepted by the webhook.",
		}),
		PassesSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_processing_passes_succeeded_total",
			Help: "Change-log drain passes that completed and advanced the cursor.",
		}),
		PassesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_processing_passes_failed_total",
			Help: "Change-log drain passes aborted without advancing the cursor.",
		}),
		CursorRebaselines: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_cursor_rebaselines_total",
			Help: "Times an expired history position forced a cursor re-baseline.",
		}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autosort_events_processed_total",
			Help: "Change-log events processed, by kind.",
		}, []string{"kind"}),
		RulesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autosort_rules_applied_total",
			Help: "Rules applied to incoming mail, by action.",
		}, []string{"action"}),
		RulesLearned: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_rules_learned_total",
			Help: "Rules created or retargeted by the auto-learn engine.",
		}),
		SweepDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_sweep_deleted_total",
			Help: "Messages permanently deleted by the blackhole purge.",
		}),
		SweepArchived: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosort_sweep_archived_total",
			Help: "Messages archived by the folder retention sweep.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autosort_http_request_duration_seconds",
			Help:    "API request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}
