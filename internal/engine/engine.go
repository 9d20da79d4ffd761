// Package engine implements the continuous join-aggregate pipeline: a
// dimension worker maintaining the shared lookup table, and per-rule
// two-stage pipelines. Stage one joins facts against the table and re-keys
// them through the log by the dimension-derived group; stage two folds the
// re-keyed stream into tumbling windows and emits refreshed snapshots.
package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
)

// Pipeline pairs the two stages built from one rule.
type Pipeline struct {
	Rule aggregation.PipelineRule
	Join *JoinStage
	Agg  *AggregateStage
}

// PipelineRuntime binds a pipeline to its two log consumers. Each worker
// blocks only on log reads; state mutation is in-memory behind the stage
// locks.
type PipelineRuntime struct {
	Pipeline      *Pipeline
	FactConsumer  eventlog.Consumer
	RekeyConsumer eventlog.Consumer
}

// Engine supervises the dimension worker and every pipeline runtime.
type Engine struct {
	dims        *DimTable
	dimConsumer eventlog.Consumer
	runtimes    []PipelineRuntime
}

// New assembles the engine. The dimension worker is wired to every join
// stage so buffered facts resolve the moment their key arrives.
func New(dims *DimTable, dimConsumer eventlog.Consumer, runtimes []PipelineRuntime) *Engine {
	return &Engine{
		dims:        dims,
		dimConsumer: dimConsumer,
		runtimes:    runtimes,
	}
}

// Run starts every worker and blocks until ctx is cancelled or one worker
// fails. On failure the whole group winds down; uncommitted units of work
// simply redeliver on restart.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	stages := make([]*JoinStage, 0, len(e.runtimes))
	for _, rt := range e.runtimes {
		stages = append(stages, rt.Pipeline.Join)
	}
	dimWorker := NewDimensionWorker(e.dims, stages)

	g.Go(func() error {
		defer e.dimConsumer.Close()
		return dimWorker.Run(ctx, e.dimConsumer)
	})

	for _, rt := range e.runtimes {
		rt := rt
		g.Go(func() error {
			defer rt.FactConsumer.Close()
			return rt.Pipeline.Join.Run(ctx, rt.FactConsumer)
		})
		g.Go(func() error {
			defer rt.RekeyConsumer.Close()
			return rt.Pipeline.Agg.Run(ctx, rt.RekeyConsumer)
		})
	}

	slog.Info("[Engine] Running", "pipelines", len(e.runtimes))
	return g.Wait()
}

// Snapshot returns the open windows of every pipeline, keyed by rule name.
func (e *Engine) Snapshot() map[string][]aggregation.Update {
	out := make(map[string][]aggregation.Update, len(e.runtimes))
	for _, rt := range e.runtimes {
		out[rt.Pipeline.Rule.Name] = rt.Pipeline.Agg.Snapshot()
	}
	return out
}
