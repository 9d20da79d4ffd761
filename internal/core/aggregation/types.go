package aggregation

import (
	"time"
)

// WindowKey uniquely identifies one open tumbling window.
type WindowKey struct {
	GroupKey    string
	WindowStart time.Time // truncated to the window boundary
}

// Update is a snapshot of a window's current accumulated value, emitted to
// subscribers on every contributing fact. Purely derived, never persisted:
// results are provisional until the window is evicted.
type Update struct {
	Pipeline    string    `json:"pipeline"`
	GroupKey    string    `json:"group_key"`
	WindowStart time.Time `json:"window_start"`

	// Value is the accumulated measure rounded to the configured precision.
	// Serialized as a string so monetary amounts survive JSON untouched.
	Value string `json:"value"`
}
