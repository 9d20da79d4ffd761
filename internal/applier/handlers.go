package applier

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/orderflow-lab/orderflow/internal/core/event"
	"github.com/orderflow-lab/orderflow/internal/core/storage/postgres"
)

// HandlerFunc applies the business effect for one event type. It runs inside
// the transaction that also writes the processed-event marker; returning an
// error rolls both back.
type HandlerFunc func(ctx context.Context, tx *sql.Tx, evt *event.Envelope) error

// Event types the order read model understands.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderCancelled = "order.cancelled"
)

type orderCreatedPayload struct {
	CustomerID string          `json:"customer_id"`
	Total      decimal.Decimal `json:"total"`
}

// OrderHandlers returns the dispatch table for the order read model.
// Adding a new event type means adding an entry here; no switch statements
// anywhere else.
func OrderHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		TypeOrderCreated:   applyOrderCreated,
		TypeOrderCancelled: applyOrderCancelled,
	}
}

func applyOrderCreated(ctx context.Context, tx *sql.Tx, evt *event.Envelope) error {
	var p orderCreatedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("order.created payload: %w", err)
	}
	if p.CustomerID == "" {
		return fmt.Errorf("order.created payload: customer_id is required")
	}

	_, err := tx.ExecContext(ctx, postgres.QueryInsertOrder,
		evt.AggregateKey, p.CustomerID, p.Total, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", evt.AggregateKey, err)
	}
	return nil
}

func applyOrderCancelled(ctx context.Context, tx *sql.Tx, evt *event.Envelope) error {
	_, err := tx.ExecContext(ctx, postgres.QueryCancelOrder, evt.AggregateKey)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", evt.AggregateKey, err)
	}
	return nil
}
