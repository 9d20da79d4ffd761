package storage

import (
	"context"
	"database/sql"
	"time"
)

// Effect is the business mutation applied for one event. It runs inside the
// same transaction as the processed-event marker, so the two commit or fail
// as a unit.
type Effect func(ctx context.Context, tx *sql.Tx) error

// ProcessedEventStore is the durable dedup ledger behind the applier.
type ProcessedEventStore interface {
	// ApplyOnce inserts the processed-event record for eventID and runs
	// effect in one atomic unit. Returns (false, nil) when eventID has
	// already been processed: the effect does not run and nothing is
	// written. Either both the marker and the effect become visible, or
	// neither does; there is no state in between for redelivery to observe.
	ApplyOnce(ctx context.Context, eventID string, processedAt time.Time, effect Effect) (applied bool, err error)
}
