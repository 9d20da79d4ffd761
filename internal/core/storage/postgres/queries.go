package postgres

// SQL for the processed-event ledger and the order read model.

const (
	// queryMarkProcessed claims an event ID. ON CONFLICT DO NOTHING makes
	// the claim race-safe across workers: exactly one transaction ever
	// observes RowsAffected == 1 for a given ID.
	queryMarkProcessed = `
		INSERT INTO processed_events (event_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`

	// Order read-model effects, executed inside the same transaction as
	// the processed-event marker.

	QueryInsertOrder = `
		INSERT INTO orders (id, customer_id, status, total, placed_at)
		VALUES ($1, $2, 'placed', $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	QueryCancelOrder = `
		UPDATE orders SET status = 'cancelled' WHERE id = $1
	`
)
