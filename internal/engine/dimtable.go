package engine

import (
	"sync"
)

// DimTable is the in-memory materialized view of the dimension feed: the
// latest known value per key. It is shared by every fact worker in the
// process; reads return a value no older than the latest update applied
// before the read, writes are linearized behind the lock.
//
// Last write wins by log offset, not by timestamp: log order is
// authoritative. A key always maps to one partition, so offsets for one key
// are totally ordered and replayed updates are absorbed.
type DimTable struct {
	mu      sync.RWMutex
	entries map[string]dimEntry
}

type dimEntry struct {
	value  string
	offset int64
}

// NewDimTable returns an empty dimension table.
func NewDimTable() *DimTable {
	return &DimTable{entries: make(map[string]dimEntry)}
}

// Set applies an update at the given log offset. Updates at or below the
// already-applied offset for the key are ignored (redelivery, replay).
// Returns true when the table changed.
func (t *DimTable) Set(key, value string, offset int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[key]
	if ok && offset <= cur.offset {
		return false
	}
	t.entries[key] = dimEntry{value: value, offset: offset}
	return true
}

// Get returns the current value for key.
func (t *DimTable) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return e.value, ok
}

// Len returns the number of known dimension keys.
func (t *DimTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
