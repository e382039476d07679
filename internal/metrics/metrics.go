// Package metrics holds the prometheus collectors shared by the ledger, the
// action scheduler and the notification paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup outcomes.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Notification kinds and outcomes.
const (
	KindDaily      = "daily"
	KindCompletion = "completion"
	KindReply      = "reply"

	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

var (
	// CacheRequests counts table reads by outcome.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinage_cache_requests_total",
			Help: "Table snapshot reads served from cache or fetched",
		},
		[]string{"table", "result"},
	)

	// CacheFetchErrors counts failed snapshot fetches.
	CacheFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinage_cache_fetch_errors_total",
			Help: "Failed whole-table fetches from the backing store",
		},
		[]string{"table"},
	)

	// BatchesCreated counts batches written to the ledger.
	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affinage_batches_created_total",
		Help: "Batches created",
	})

	// UnitsSold counts units decremented from batches.
	UnitsSold = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affinage_units_sold_total",
		Help: "Units decremented from batch stock",
	})

	// OverSales counts rejected decrements.
	OverSales = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affinage_oversales_total",
		Help: "Decrements rejected because they exceeded remaining stock",
	})

	// ActionsGenerated counts action rows appended by the scheduler.
	ActionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affinage_actions_generated_total",
		Help: "Care actions generated from recipe schedules",
	})

	// ActionsCompleted counts Pending to Done transitions.
	ActionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affinage_actions_completed_total",
		Help: "Care actions marked done",
	})

	// Notifications counts outbound messages by kind and outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinage_notifications_total",
			Help: "Outbound operator notifications",
		},
		[]string{"kind", "outcome"},
	)

	// DispatchRuns counts daily dispatcher runs by outcome.
	DispatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinage_dispatch_runs_total",
			Help: "Daily dispatcher runs",
		},
		[]string{"outcome"},
	)

	// DispatchDuration records how long a dispatcher run took.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "affinage_dispatch_duration_seconds",
		Help:    "Duration of daily dispatcher runs in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
