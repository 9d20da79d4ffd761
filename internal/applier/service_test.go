package applier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/core/storage"
	"github.com/orderflow-lab/orderflow/internal/eventlog/memlog"
)

// fakeLedger is an in-memory ProcessedEventStore. Effects run with a nil tx;
// test handlers record what they saw instead of touching SQL.
type fakeLedger struct {
	mu        sync.Mutex
	processed map[string]bool
	failNext  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{processed: make(map[string]bool)}
}

func (l *fakeLedger) ApplyOnce(ctx context.Context, eventID string, _ time.Time, effect storage.Effect) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return false, err
	}
	if l.processed[eventID] {
		return false, nil
	}
	if effect != nil {
		if err := effect(ctx, nil); err != nil {
			return false, err
		}
	}
	l.processed[eventID] = true
	return true, nil
}

func makeEnvelope(id, key, typ string) *event.Envelope {
	return &event.Envelope{
		ID:            id,
		AggregateType: "order",
		AggregateKey:  key,
		Type:          typ,
		OccurredAt:    time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
		Payload:       json.RawMessage(`{}`),
	}
}

func recordingHandlers(applied *[]string) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"order.created": func(_ context.Context, _ *sql.Tx, evt *event.Envelope) error {
			*applied = append(*applied, evt.ID)
			return nil
		},
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	var applied []string
	svc := NewService(newFakeLedger(), recordingHandlers(&applied))

	evt := makeEnvelope("evt-A", "order-1", "order.created")

	outcome, err := svc.Apply(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = svc.Apply(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedDuplicate, outcome)

	require.Equal(t, []string{"evt-A"}, applied, "effect observed exactly once")
}

func TestApplyUnknownTypeIsMarkedProcessed(t *testing.T) {
	ledger := newFakeLedger()
	var applied []string
	svc := NewService(ledger, recordingHandlers(&applied))

	evt := makeEnvelope("evt-U", "order-1", "order.exploded")

	outcome, err := svc.Apply(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedUnknown, outcome)
	require.Empty(t, applied)

	// Redelivery of the unknown event is now a plain duplicate.
	outcome, err = svc.Apply(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedDuplicate, outcome)
}

func TestApplyPropagatesStorageErrors(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failNext = errors.New("storage unavailable")
	svc := NewService(ledger, nil)

	_, err := svc.Apply(context.Background(), makeEnvelope("evt-B", "order-1", "order.created"))
	require.ErrorContains(t, err, "storage unavailable")

	// Nothing was recorded, so a retry succeeds and applies.
	outcome, err := svc.Apply(context.Background(), makeEnvelope("evt-B", "order-1", "order.created"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedUnknown, outcome)
}

func TestRunPreservesPerKeyOrderAndDropsDuplicates(t *testing.T) {
	log := memlog.New()
	appendEnvelope := func(e *event.Envelope) {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		log.Append("orders.events", []byte(e.AggregateKey), b)
	}

	// e1..e3 in order with a duplicate of e1 wedged in.
	appendEnvelope(makeEnvelope("evt-1", "order-1", "order.created"))
	appendEnvelope(makeEnvelope("evt-2", "order-1", "order.created"))
	appendEnvelope(makeEnvelope("evt-1", "order-1", "order.created"))
	appendEnvelope(makeEnvelope("evt-3", "order-1", "order.created"))

	var applied []string
	svc := NewService(newFakeLedger(), recordingHandlers(&applied))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, log.NewConsumer("orders.events", "applier"))
	}()

	require.Eventually(t, func() bool { return len(applied) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, []string{"evt-1", "evt-2", "evt-3"}, applied,
		"applied effects equal the delivery order with duplicates removed")
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	log := memlog.New()
	log.Append("orders.events", []byte("order-1"), []byte("{{not json"))
	b, err := json.Marshal(makeEnvelope("evt-ok", "order-1", "order.created"))
	require.NoError(t, err)
	log.Append("orders.events", []byte("order-1"), b)

	var applied []string
	svc := NewService(newFakeLedger(), recordingHandlers(&applied))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, log.NewConsumer("orders.events", "applier"))
	}()

	require.Eventually(t, func() bool { return len(applied) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, []string{"evt-ok"}, applied)
}

func TestRunStopsOnStorageFailureWithoutCommitting(t *testing.T) {
	log := memlog.New()
	b, err := json.Marshal(makeEnvelope("evt-1", "order-1", "order.created"))
	require.NoError(t, err)
	log.Append("orders.events", []byte("order-1"), b)

	ledger := newFakeLedger()
	ledger.failNext = fmt.Errorf("storage unavailable")

	var applied []string
	svc := NewService(ledger, recordingHandlers(&applied))

	err = svc.Run(context.Background(), log.NewConsumer("orders.events", "applier"))
	require.ErrorContains(t, err, "storage unavailable")
	require.Empty(t, applied)

	// Restart: the uncommitted record redelivers and applies cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, log.NewConsumer("orders.events", "applier"))
	}()
	require.Eventually(t, func() bool { return len(applied) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
