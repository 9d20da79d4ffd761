package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Envelope is the atomic unit carried on the change-data-capture log.
// It separates the system attributes (the envelope) from the domain
// payload (the letter). The upstream outbox writer produces each
// envelope exactly once; the log may deliver it more than once.
type Envelope struct {
	// ID is the globally unique identifier assigned by the outbox writer.
	// It is the sole deduplication key for downstream consumers.
	ID string `json:"id"`

	// AggregateType names the business aggregate the event belongs to
	// (e.g. "order", "product").
	AggregateType string `json:"aggregate_type"`

	// AggregateKey identifies the aggregate instance. The log partitions
	// by this key, so all events for one aggregate arrive in order.
	AggregateKey string `json:"aggregate_key"`

	// Type is the domain-specific event name (e.g. "order.created").
	// It selects the business-effect handler on the consumer side.
	Type string `json:"type"`

	// OccurredAt is when the event happened in the source database
	// (the outbox row's insertion time), not when it was consumed.
	OccurredAt time.Time `json:"occurred_at"`

	// Payload is the domain-specific body, left opaque here.
	// Handlers decode it against the shape they expect.
	Payload json.RawMessage `json:"payload"`
}

// Validate ensures the envelope carries all required system attributes.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.AggregateKey == "" {
		return fmt.Errorf("aggregate_key is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// DecodeEnvelope parses a log record value into an Envelope and validates it.
func DecodeEnvelope(value []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// DimensionUpdate is the wire shape of the dimension feed: the latest
// known value for one dimension key. Last write wins by log offset.
type DimensionUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DecodeDimensionUpdate parses a dimension-feed record value.
func DecodeDimensionUpdate(value []byte) (*DimensionUpdate, error) {
	var d DimensionUpdate
	if err := json.Unmarshal(value, &d); err != nil {
		return nil, fmt.Errorf("decode dimension update: %w", err)
	}
	if d.Key == "" {
		return nil, fmt.Errorf("decode dimension update: key is required")
	}
	return &d, nil
}

// Fact is the wire shape of the fact feed: one immutable observation
// carrying a foreign key into the dimension table and a numeric measure.
type Fact struct {
	Key       string                 `json:"key"`
	EventTime time.Time              `json:"event_time"`
	Data      map[string]interface{} `json:"data"`
}

// DecodeFact parses a fact-feed record value.
func DecodeFact(value []byte) (*Fact, error) {
	var f Fact
	if err := json.Unmarshal(value, &f); err != nil {
		return nil, fmt.Errorf("decode fact: %w", err)
	}
	if f.Key == "" {
		return nil, fmt.Errorf("decode fact: key is required")
	}
	if f.EventTime.IsZero() {
		return nil, fmt.Errorf("decode fact: event_time is required")
	}
	return &f, nil
}

// EnrichedFact is the output of the join stage: the fact's measure,
// re-keyed by the dimension-derived group key. It travels through the
// log again so the aggregate stage can own disjoint group-key ranges.
type EnrichedFact struct {
	GroupKey  string          `json:"group_key"`
	Measure   decimal.Decimal `json:"measure"`
	EventTime time.Time       `json:"event_time"`
}

// Encode serializes the enriched fact for the re-key topic.
func (ef *EnrichedFact) Encode() ([]byte, error) {
	b, err := json.Marshal(ef)
	if err != nil {
		return nil, fmt.Errorf("encode enriched fact: %w", err)
	}
	return b, nil
}

// DecodeEnrichedFact parses a re-key topic record value.
func DecodeEnrichedFact(value []byte) (*EnrichedFact, error) {
	var ef EnrichedFact
	if err := json.Unmarshal(value, &ef); err != nil {
		return nil, fmt.Errorf("decode enriched fact: %w", err)
	}
	if ef.GroupKey == "" {
		return nil, fmt.Errorf("decode enriched fact: group_key is required")
	}
	return &ef, nil
}
