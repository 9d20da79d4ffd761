// Package eventlog defines the read/write interface over the durable,
// partitioned, key-ordered log the pipeline consumes from. The log delivers
// at-least-once; consumers control redelivery through explicit offset
// commits: a record is delivered again after a restart until its offset
// has been committed.
package eventlog

import (
	"context"
	"time"
)

// Record is one entry read from a topic partition.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Consumer reads one topic on behalf of a consumer group.
//
// Fetch blocks until the next record is available or ctx is cancelled.
// Commit marks a record's unit of work durable; it must only be called
// after the effect of the record has been committed, never before.
// Within one partition, records arrive in append order.
type Consumer interface {
	Fetch(ctx context.Context) (Record, error)
	Commit(ctx context.Context, rec Record) error
	Close() error
}

// Writer appends records to one topic, partitioned by key so that the
// single-writer-per-key ordering guarantee holds for downstream consumers.
type Writer interface {
	Write(ctx context.Context, key, value []byte) error
	Close() error
}
