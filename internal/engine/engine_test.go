package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/eventlog/memlog"
)

// Full two-stage run over the in-memory log: a dimension entry, then two
// facts for it inside one window, must surface as two refreshed emissions
// of the same window.
func TestEngineEndToEnd(t *testing.T) {
	log := memlog.New()
	rule := revenueRule()

	published := make(chan aggregation.Update, 8)
	agg, err := NewAggregateStage(rule, AggregateConfig{GracePeriod: time.Minute, Precision: 2}, func(u aggregation.Update) {
		published <- u
	})
	require.NoError(t, err)

	dims := NewDimTable()
	join := NewJoinStage(rule, dims, log.Writer(rekeyTopic), JoinConfig{
		MissingDimPolicy:  PolicyBuffer,
		PendingBufferSize: 16,
		PendingWait:       time.Minute,
	})

	eng := New(dims, log.NewConsumer("orderflow.dimensions", "engine-dims"), []PipelineRuntime{{
		Pipeline:      &Pipeline{Rule: rule, Join: join, Agg: agg},
		FactConsumer:  log.NewConsumer("orderflow.facts", "join-revenue"),
		RekeyConsumer: log.NewConsumer(rekeyTopic, "agg-revenue"),
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	dim, err := json.Marshal(event.DimensionUpdate{Key: "product-1", Value: "toys"})
	require.NoError(t, err)
	log.Append("orderflow.dimensions", []byte("product-1"), dim)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, f := range []*event.Fact{
		joinFact("product-1", 1000, base),
		joinFact("product-1", 2000, base.Add(3*time.Second)),
	} {
		b, err := json.Marshal(f)
		require.NoError(t, err)
		log.Append("orderflow.facts", []byte(f.Key), b)
	}

	var got []aggregation.Update
	for len(got) < 2 {
		select {
		case u := <-published:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d updates", len(got))
		}
	}

	require.Equal(t, "toys", got[0].GroupKey)
	require.True(t, got[0].WindowStart.Equal(base))
	require.Equal(t, "1000", got[0].Value)
	require.True(t, got[1].WindowStart.Equal(base))
	require.Equal(t, "3000", got[1].Value)

	snapshot := eng.Snapshot()
	require.Len(t, snapshot["revenue"], 1)
	require.Equal(t, "3000", snapshot["revenue"][0].Value)

	cancel()
	require.NoError(t, <-done)
}

// A fact that beats its dimension entry to the log is held, then joined
// as soon as the entry lands.
func TestEngineResolvesFactAheadOfDimension(t *testing.T) {
	log := memlog.New()
	rule := revenueRule()

	published := make(chan aggregation.Update, 8)
	agg, err := NewAggregateStage(rule, AggregateConfig{GracePeriod: time.Minute, Precision: 2}, func(u aggregation.Update) {
		published <- u
	})
	require.NoError(t, err)

	dims := NewDimTable()
	join := NewJoinStage(rule, dims, log.Writer(rekeyTopic), JoinConfig{
		MissingDimPolicy:  PolicyBuffer,
		PendingBufferSize: 16,
		PendingWait:       time.Minute,
	})

	eng := New(dims, log.NewConsumer("orderflow.dimensions", "engine-dims"), []PipelineRuntime{{
		Pipeline:      &Pipeline{Rule: rule, Join: join, Agg: agg},
		FactConsumer:  log.NewConsumer("orderflow.facts", "join-revenue"),
		RekeyConsumer: log.NewConsumer(rekeyTopic, "agg-revenue"),
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b, err := json.Marshal(joinFact("product-1", 500, base))
	require.NoError(t, err)
	log.Append("orderflow.facts", []byte("product-1"), b)

	// Give the join stage time to buffer the unjoinable fact, then land
	// the dimension entry.
	time.Sleep(50 * time.Millisecond)
	dim, err := json.Marshal(event.DimensionUpdate{Key: "product-1", Value: "games"})
	require.NoError(t, err)
	log.Append("orderflow.dimensions", []byte("product-1"), dim)

	select {
	case u := <-published:
		require.Equal(t, "games", u.GroupKey)
		require.Equal(t, "500", u.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("buffered fact never resolved")
	}

	cancel()
	require.NoError(t, <-done)
}
