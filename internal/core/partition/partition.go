package partition

import "hash/fnv"

// Count is the fixed number of logical partitions per topic.
// Never changes after initial deployment; it's a capacity decision, not a scaling decision.
const Count = 64

// For returns the partition ID for a given record key.
// Stable and deterministic: same key always maps to the same partition,
// which is what gives the log its single-writer-per-key ordering.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % Count
}
