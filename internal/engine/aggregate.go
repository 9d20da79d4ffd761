package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
	"github.com/orderflow-lab/orderflow/internal/metrics"
)

// AggregateConfig carries the aggregate stage's retention and presentation knobs.
type AggregateConfig struct {
	// GracePeriod keeps a window in memory after its end while stragglers
	// may still arrive. Once the group's event-time watermark passes
	// windowEnd+grace the window is evicted and later facts for it are
	// late-dropped.
	GracePeriod time.Duration
	// Precision is the number of fractional digits in emitted values.
	// Rounding happens at emission only; the accumulator stays exact.
	Precision int32
}

// AggregateStage is stage two of the pipeline: it consumes the re-keyed
// enriched facts, folds each measure into its tumbling window, and emits a
// refreshed snapshot on every contributing fact. Results stay provisional:
// there is no window-close event, only eviction after the grace period.
type AggregateStage struct {
	rule    aggregation.PipelineRule
	agg     aggregation.Aggregator
	cfg     AggregateConfig
	publish func(aggregation.Update)

	mu         sync.Mutex
	windows    map[aggregation.WindowKey]*windowState
	watermarks map[string]time.Time // max event time seen per group
}

type windowState struct {
	value decimal.Decimal
	facts int64
}

// NewAggregateStage builds the aggregate stage for one pipeline rule.
// publish must not block: the publisher buffers and sheds on its side.
func NewAggregateStage(rule aggregation.PipelineRule, cfg AggregateConfig, publish func(aggregation.Update)) (*AggregateStage, error) {
	agg, ok := aggregation.Operators[rule.Operator]
	if !ok {
		return nil, fmt.Errorf("aggregate stage: unsupported operator %q", rule.Operator)
	}
	return &AggregateStage{
		rule:       rule,
		agg:        agg,
		cfg:        cfg,
		publish:    publish,
		windows:    make(map[aggregation.WindowKey]*windowState),
		watermarks: make(map[string]time.Time),
	}, nil
}

// Run consumes the re-key feed until ctx is cancelled. Offsets commit after
// the window update and the emit attempt; the window map is in-memory, so a
// restart rebuilds state from the uncommitted tail plus whatever the grace
// period still admits.
func (s *AggregateStage) Run(ctx context.Context, consumer eventlog.Consumer) error {
	slog.Info("[Aggregate] Starting aggregate stage",
		"pipeline", s.rule.Name,
		"operator", s.rule.Operator,
		"window_size", s.rule.WindowSize,
		"grace_period", s.cfg.GracePeriod)

	for {
		rec, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("[Aggregate] Stopping (context cancelled)", "pipeline", s.rule.Name)
				return nil
			}
			return fmt.Errorf("aggregate fetch: %w", err)
		}

		ef, err := event.DecodeEnrichedFact(rec.Value)
		if err != nil {
			slog.Error("[Aggregate] Malformed enriched fact, skipping",
				"pipeline", s.rule.Name,
				"partition", rec.Partition, "offset", rec.Offset, "error", err)
			if err := consumer.Commit(ctx, rec); err != nil {
				return fmt.Errorf("aggregate commit malformed fact: %w", err)
			}
			continue
		}

		s.Handle(ef)

		if err := consumer.Commit(ctx, rec); err != nil {
			return fmt.Errorf("aggregate commit: %w", err)
		}
	}
}

// Handle folds one enriched fact into its window and emits the refreshed
// value. Aggregation is commutative and associative, so the loss of
// cross-partition ordering behind the re-key boundary is harmless.
func (s *AggregateStage) Handle(ef *event.EnrichedFact) {
	windowStart := aggregation.WindowStartFor(ef.EventTime, s.rule.WindowSize)
	windowEnd := windowStart.Add(s.rule.WindowSize)
	key := aggregation.WindowKey{GroupKey: ef.GroupKey, WindowStart: windowStart}

	s.mu.Lock()

	watermark := s.watermarks[ef.GroupKey]
	if !windowEnd.Add(s.cfg.GracePeriod).After(watermark) {
		// The window this fact belongs to has already been evicted.
		s.mu.Unlock()
		metrics.LateEventsDropped.Inc()
		slog.Warn("[Aggregate] Late fact dropped",
			"pipeline", s.rule.Name,
			"group", ef.GroupKey,
			"window_start", windowStart,
			"event_time", ef.EventTime)
		return
	}

	w, exists := s.windows[key]
	if !exists {
		w = &windowState{value: s.agg.Initial(ef.Measure), facts: 1}
		s.windows[key] = w
	} else {
		w.value = s.agg.Apply(w.value, ef.Measure)
		w.facts++
	}

	if err := s.checkInvariants(key, w); err != nil {
		// Fatal for this window only; the rest of the state is untouched.
		delete(s.windows, key)
		s.mu.Unlock()
		metrics.InvariantViolations.Inc()
		slog.Error("[Aggregate] Window discarded",
			"pipeline", s.rule.Name, "group", key.GroupKey,
			"window_start", key.WindowStart, "error", err)
		return
	}

	update := s.updateLocked(key, w)

	if ef.EventTime.After(watermark) {
		s.watermarks[ef.GroupKey] = ef.EventTime
		s.evictLocked(ef.GroupKey, ef.EventTime)
	}
	s.mu.Unlock()

	s.publish(update)
}

// checkInvariants guards the window state against corruption. A sum of
// monetary measures can never go negative; a window always has at least one
// contributing fact.
func (s *AggregateStage) checkInvariants(key aggregation.WindowKey, w *windowState) error {
	if s.rule.Operator == aggregation.OpSum && w.value.IsNegative() {
		return fmt.Errorf("negative accumulated measure %s", w.value)
	}
	if w.facts <= 0 {
		return fmt.Errorf("window with %d facts", w.facts)
	}
	return nil
}

func (s *AggregateStage) updateLocked(key aggregation.WindowKey, w *windowState) aggregation.Update {
	return aggregation.Update{
		Pipeline:    s.rule.Name,
		GroupKey:    key.GroupKey,
		WindowStart: key.WindowStart,
		Value:       aggregation.RoundHalfUp(w.value, s.cfg.Precision).String(),
	}
}

// evictLocked releases every window of the group whose retention has fully
// elapsed at the given watermark.
func (s *AggregateStage) evictLocked(groupKey string, watermark time.Time) {
	for key := range s.windows {
		if key.GroupKey != groupKey {
			continue
		}
		windowEnd := key.WindowStart.Add(s.rule.WindowSize)
		if !windowEnd.Add(s.cfg.GracePeriod).After(watermark) {
			delete(s.windows, key)
			metrics.WindowsEvicted.Inc()
			slog.Debug("[Aggregate] Window evicted",
				"pipeline", s.rule.Name, "group", groupKey, "window_start", key.WindowStart)
		}
	}
}

// Snapshot returns the current value of every open window, ordered by group
// key then window start. The aggregation state is the source of truth; the
// notification stream is not replayed, so reconnecting clients read this.
func (s *AggregateStage) Snapshot() []aggregation.Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]aggregation.Update, 0, len(s.windows))
	for key, w := range s.windows {
		out = append(out, s.updateLocked(key, w))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupKey != out[j].GroupKey {
			return out[i].GroupKey < out[j].GroupKey
		}
		return out[i].WindowStart.Before(out[j].WindowStart)
	})
	return out
}
