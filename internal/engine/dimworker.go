package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
)

// DimensionWorker is the single writer of the dimension table. It consumes
// the dimension feed, applies each update last-write-wins by offset, and
// nudges every join stage to re-attempt facts buffered for the updated key.
type DimensionWorker struct {
	dims   *DimTable
	stages []*JoinStage
}

// NewDimensionWorker wires the worker to the shared table and the join
// stages whose pending buffers it unblocks.
func NewDimensionWorker(dims *DimTable, stages []*JoinStage) *DimensionWorker {
	return &DimensionWorker{dims: dims, stages: stages}
}

// Run consumes the dimension feed until ctx is cancelled. Offsets are
// committed after the table update: replaying an update on restart is a
// no-op thanks to the offset guard in Set.
func (w *DimensionWorker) Run(ctx context.Context, consumer eventlog.Consumer) error {
	slog.Info("[Dimension] Starting dimension worker")

	for {
		rec, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("[Dimension] Stopping (context cancelled)")
				return nil
			}
			return fmt.Errorf("dimension fetch: %w", err)
		}

		update, err := event.DecodeDimensionUpdate(rec.Value)
		if err != nil {
			slog.Error("[Dimension] Malformed update, skipping",
				"partition", rec.Partition, "offset", rec.Offset, "error", err)
			if err := consumer.Commit(ctx, rec); err != nil {
				return fmt.Errorf("dimension commit malformed update: %w", err)
			}
			continue
		}

		if w.dims.Set(update.Key, update.Value, rec.Offset) {
			slog.Debug("[Dimension] Updated entry",
				"key", update.Key, "value", update.Value, "offset", rec.Offset)
			for _, stage := range w.stages {
				if err := stage.Resolve(ctx, update.Key); err != nil {
					return fmt.Errorf("dimension resolve: %w", err)
				}
			}
		}

		if err := consumer.Commit(ctx, rec); err != nil {
			return fmt.Errorf("dimension commit: %w", err)
		}
	}
}
