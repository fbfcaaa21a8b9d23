package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики регистрируются в prometheus.DefaultRegisterer, их отдает /metrics.
var (
	EntriesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordchain_entries_appended_total",
			Help: "Total number of entries accepted by the story backend.",
		},
		[]string{"collaboration"},
	)
	WriteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordchain_backend_write_retries_total",
			Help: "Total number of retried backend writes, partitioned by operation.",
		},
		[]string{"operation"},
	)
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordchain_persistence_failures_total",
			Help: "Backend writes that failed after the retry budget.",
		},
		[]string{"operation"},
	)
	Resyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordchain_resyncs_total",
			Help: "Full story resyncs, partitioned by trigger.",
		},
		[]string{"trigger"},
	)
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wordchain_active_story_subscriptions",
			Help: "Stories with at least one live change subscription.",
		},
	)
	SessionCodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wordchain_session_code_collisions_total",
			Help: "Generated session codes that were already taken.",
		},
	)
	SessionCodeExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wordchain_session_code_exhaustions_total",
			Help: "Code generations that ran out of attempts.",
		},
	)
	TurnNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordchain_turn_notifications_total",
			Help: "Turn notifications by outcome (sent, coalesced, failed).",
		},
		[]string{"outcome"},
	)
)
