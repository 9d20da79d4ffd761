// Package applier consumes the CDC event feed and applies each event's
// business effect exactly once, no matter how many times the log delivers
// it. Deduplication rides on the processed-event ledger: the effect and the
// ledger insert share one transaction, so redelivery after a crash can never
// observe a half-applied event.
package applier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/core/storage"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
	"github.com/orderflow-lab/orderflow/internal/metrics"
)

// Outcome reports what a single delivery did.
type Outcome int

const (
	// OutcomeApplied means this delivery ran the business effect.
	OutcomeApplied Outcome = iota
	// OutcomeSkippedDuplicate means the event ID was already processed.
	OutcomeSkippedDuplicate
	// OutcomeSkippedUnknown means no handler is registered for the event
	// type. The event is still marked processed so the log stops
	// redelivering something we cannot interpret.
	OutcomeSkippedUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkippedDuplicate:
		return "skipped_duplicate"
	case OutcomeSkippedUnknown:
		return "skipped_unknown"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Service dispatches events to business-effect handlers through the
// idempotency ledger.
type Service struct {
	store    storage.ProcessedEventStore
	handlers map[string]HandlerFunc
	nowFn    func() time.Time
}

// NewService creates an applier over the given ledger and dispatch table.
func NewService(store storage.ProcessedEventStore, handlers map[string]HandlerFunc) *Service {
	if store == nil {
		panic("applier: store must not be nil")
	}
	return &Service{
		store:    store,
		handlers: handlers,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs one event through the ledger. The business effect for a given
// event ID executes at most once system-wide; every later delivery returns
// OutcomeSkippedDuplicate without side effects.
func (s *Service) Apply(ctx context.Context, evt *event.Envelope) (Outcome, error) {
	handler, known := s.handlers[evt.Type]

	var effect storage.Effect
	if known {
		effect = func(ctx context.Context, tx *sql.Tx) error {
			return handler(ctx, tx, evt)
		}
	}

	applied, err := s.store.ApplyOnce(ctx, evt.ID, s.nowFn(), effect)
	if err != nil {
		return 0, err
	}
	if !applied {
		metrics.DuplicatesSkipped.Inc()
		slog.Info("[Applier] Duplicate delivery absorbed", "event_id", evt.ID, "type", evt.Type)
		return OutcomeSkippedDuplicate, nil
	}

	if !known {
		metrics.UnknownEventTypes.WithLabelValues(evt.Type).Inc()
		slog.Warn("[Applier] Unknown event type, marked processed as no-op",
			"event_id", evt.ID, "type", evt.Type)
		return OutcomeSkippedUnknown, nil
	}

	metrics.EventsApplied.Inc()
	return OutcomeApplied, nil
}

// Run consumes the event feed until ctx is cancelled. Processing is strictly
// serial per consumer, which preserves per-key order: the log already keeps
// one key on one partition, and we never reorder within a partition.
//
// A failed unit of work stops the loop without committing the offset; the
// log redelivers the event once the process restarts. Malformed records are
// the one exception: they can never succeed, so they are logged, counted as
// unknown, and committed to break the poison-pill loop.
func (s *Service) Run(ctx context.Context, consumer eventlog.Consumer) error {
	slog.Info("[Applier] Starting event applier")

	for {
		rec, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("[Applier] Stopping (context cancelled)")
				return nil
			}
			return fmt.Errorf("applier fetch: %w", err)
		}

		evt, err := event.DecodeEnvelope(rec.Value)
		if err != nil {
			metrics.UnknownEventTypes.WithLabelValues("malformed").Inc()
			slog.Error("[Applier] Malformed record, skipping",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			if err := consumer.Commit(ctx, rec); err != nil {
				return fmt.Errorf("applier commit malformed record: %w", err)
			}
			continue
		}

		outcome, err := s.Apply(ctx, evt)
		if err != nil {
			// Unit of work not committed; the event stays unacknowledged
			// and redelivers after restart.
			return fmt.Errorf("applier apply %s: %w", evt.ID, err)
		}

		slog.Debug("[Applier] Processed event",
			"event_id", evt.ID, "type", evt.Type, "outcome", outcome.String(),
			"partition", rec.Partition, "offset", rec.Offset)

		if err := consumer.Commit(ctx, rec); err != nil {
			return fmt.Errorf("applier commit %s: %w", evt.ID, err)
		}
	}
}
