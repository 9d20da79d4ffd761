// Package metrics registers the pipeline's Prometheus collectors.
// Every recoverable condition has a countable signal here: nothing in the
// pipeline swallows an error or drops a record silently.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Applier.

	EventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "events_applied_total",
		Help:      "Events whose business effect was applied exactly once",
	})
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "duplicate_events_skipped_total",
		Help:      "Redelivered events absorbed by the idempotency check",
	})
	UnknownEventTypes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "unknown_event_types_total",
		Help:      "Events with no registered handler, marked processed as no-ops",
	}, []string{"type"})

	// Join stage.

	DimensionMissing = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "dimension_missing_total",
		Help:      "Facts that arrived before their dimension entry",
	})
	PendingFactsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "pending_facts_dropped_total",
		Help:      "Buffered facts dropped after the missing-dimension grace expired or the buffer overflowed",
	})

	// Aggregate stage.

	LateEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "late_events_dropped_total",
		Help:      "Facts addressed to a window already evicted",
	})
	WindowsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "windows_evicted_total",
		Help:      "Windows released after the retention grace period",
	})
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "window_invariant_violations_total",
		Help:      "Windows discarded because their state failed a sanity check",
	})

	// Publisher.

	UpdatesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "updates_published_total",
		Help:      "Aggregate updates fanned out to subscribers",
	})
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Name:      "subscribers_dropped_total",
		Help:      "Subscribers disconnected because their send buffer overflowed",
	})
)
