package applier

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/core/storage/postgres"
)

func TestApplyOrderCreated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	occurred := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	evt := &event.Envelope{
		ID:            "evt-1",
		AggregateType: "order",
		AggregateKey:  "order-1",
		Type:          TypeOrderCreated,
		OccurredAt:    occurred,
		Payload:       json.RawMessage(`{"customer_id":"cust-9","total":"42.50"}`),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(postgres.QueryInsertOrder)).
		WithArgs("order-1", "cust-9", sqlmock.AnyArg(), occurred).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Begin()
	require.NoError(t, err)

	require.NoError(t, applyOrderCreated(context.Background(), tx, evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyOrderCreatedRejectsBadPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{{`},
		{name: "missing customer", payload: `{"total":"1.00"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt := &event.Envelope{
				ID:           "evt-bad",
				AggregateKey: "order-1",
				Type:         TypeOrderCreated,
				OccurredAt:   time.Now(),
				Payload:      json.RawMessage(tc.payload),
			}
			require.Error(t, applyOrderCreated(context.Background(), tx, evt))
		})
	}
}

func TestApplyOrderCancelled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(postgres.QueryCancelOrder)).
		WithArgs("order-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Begin()
	require.NoError(t, err)

	evt := &event.Envelope{
		ID:           "evt-2",
		AggregateKey: "order-1",
		Type:         TypeOrderCancelled,
		OccurredAt:   time.Now(),
	}
	require.NoError(t, applyOrderCancelled(context.Background(), tx, evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderHandlersTable(t *testing.T) {
	handlers := OrderHandlers()
	require.Contains(t, handlers, TypeOrderCreated)
	require.Contains(t, handlers, TypeOrderCancelled)
}
