package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
	"github.com/orderflow-lab/orderflow/internal/metrics"
)

// MissingDimPolicy names the two ways to treat a fact whose dimension entry
// has not arrived yet.
const (
	// PolicyBuffer holds the fact in a bounded per-key buffer until the
	// dimension arrives or the wait expires.
	PolicyBuffer = "buffer"
	// PolicyDrop discards the fact immediately, with a warning and a count.
	PolicyDrop = "drop"
)

// JoinConfig carries the join stage's policy knobs.
type JoinConfig struct {
	// MissingDimPolicy is PolicyBuffer or PolicyDrop.
	MissingDimPolicy string
	// PendingBufferSize caps buffered facts per missing key (buffer policy).
	PendingBufferSize int
	// PendingWait bounds how long a buffered fact waits for its dimension.
	PendingWait time.Duration
}

// JoinStage is stage one of the pipeline: it resolves each fact against the
// dimension table, derives the group key from the resolved value, and
// re-keys the enriched fact through the log so stage two can own disjoint
// group-key ranges without coordination.
type JoinStage struct {
	rule    aggregation.PipelineRule
	dims    *DimTable
	out     eventlog.Writer
	cfg     JoinConfig
	pending *pendingBuffer
	nowFn   func() time.Time
}

// NewJoinStage builds the join stage for one pipeline rule. All join stages
// in the process share the same dimension table.
func NewJoinStage(rule aggregation.PipelineRule, dims *DimTable, out eventlog.Writer, cfg JoinConfig) *JoinStage {
	return &JoinStage{
		rule:    rule,
		dims:    dims,
		out:     out,
		cfg:     cfg,
		pending: newPendingBuffer(cfg.PendingBufferSize, cfg.PendingWait),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the fact feed until ctx is cancelled. The inbound offset is
// committed only after the enriched fact has been durably written to the
// re-key topic, so a crash in between redelivers the fact. Buffered facts
// (missing dimension) are the exception: their offset commits immediately
// and the buffer is volatile, a bounded loss the policy explicitly allows.
func (j *JoinStage) Run(ctx context.Context, consumer eventlog.Consumer) error {
	slog.Info("[Join] Starting join stage",
		"pipeline", j.rule.Name,
		"missing_dim_policy", j.cfg.MissingDimPolicy,
		"pending_wait", j.cfg.PendingWait)

	for {
		rec, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("[Join] Stopping (context cancelled)", "pipeline", j.rule.Name)
				return nil
			}
			return fmt.Errorf("join fetch: %w", err)
		}

		fact, err := event.DecodeFact(rec.Value)
		if err != nil {
			slog.Error("[Join] Malformed fact, skipping",
				"pipeline", j.rule.Name,
				"partition", rec.Partition, "offset", rec.Offset, "error", err)
			if err := consumer.Commit(ctx, rec); err != nil {
				return fmt.Errorf("join commit malformed fact: %w", err)
			}
			continue
		}

		if err := j.process(ctx, fact); err != nil {
			// Re-key write failed; offset stays uncommitted and the fact
			// redelivers after restart.
			return fmt.Errorf("join process: %w", err)
		}

		if err := consumer.Commit(ctx, rec); err != nil {
			return fmt.Errorf("join commit: %w", err)
		}
	}
}

// process joins one fact. The join is "latest as of now", not "latest as of
// event time": whatever the dimension table holds when the fact is handled
// is the value used.
func (j *JoinStage) process(ctx context.Context, fact *event.Fact) error {
	now := j.nowFn()
	if expired := j.pending.Expire(now); expired > 0 {
		metrics.PendingFactsDropped.Add(float64(expired))
		slog.Warn("[Join] Dropped expired pending facts",
			"pipeline", j.rule.Name, "count", expired)
	}

	groupKey, ok := j.dims.Get(fact.Key)
	if !ok {
		metrics.DimensionMissing.Inc()
		if j.cfg.MissingDimPolicy == PolicyBuffer {
			if !j.pending.Add(fact, now) {
				metrics.PendingFactsDropped.Inc()
				slog.Warn("[Join] Pending buffer full, fact dropped",
					"pipeline", j.rule.Name, "key", fact.Key)
			}
			return nil
		}
		metrics.PendingFactsDropped.Inc()
		slog.Warn("[Join] No dimension entry, fact dropped",
			"pipeline", j.rule.Name, "key", fact.Key)
		return nil
	}

	return j.emit(ctx, groupKey, fact)
}

// Resolve is called by the dimension worker after a key's entry lands:
// every fact buffered for that key is joined and re-keyed now.
func (j *JoinStage) Resolve(ctx context.Context, key string) error {
	facts := j.pending.Take(key)
	if len(facts) == 0 {
		return nil
	}

	groupKey, ok := j.dims.Get(key)
	if !ok {
		// Raced with nothing we can use; put the loss on the counter.
		metrics.PendingFactsDropped.Add(float64(len(facts)))
		return nil
	}

	for _, fact := range facts {
		if err := j.emit(ctx, groupKey, fact); err != nil {
			return fmt.Errorf("join resolve %s: %w", key, err)
		}
	}
	slog.Debug("[Join] Resolved pending facts",
		"pipeline", j.rule.Name, "key", key, "count", len(facts))
	return nil
}

func (j *JoinStage) emit(ctx context.Context, groupKey string, fact *event.Fact) error {
	ef := event.EnrichedFact{
		GroupKey:  groupKey,
		Measure:   aggregation.ExtractMeasure(fact.Data, j.rule.Field),
		EventTime: fact.EventTime,
	}
	b, err := ef.Encode()
	if err != nil {
		return err
	}
	return j.out.Write(ctx, []byte(groupKey), b)
}
