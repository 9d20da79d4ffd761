package engine

import (
	"sync"
	"time"

	"github.com/orderflow-lab/orderflow/internal/core/event"
)

// pendingBuffer holds facts that arrived before their dimension entry.
// Bounded two ways: at most capPerKey facts per missing key, and every
// buffered fact expires after the configured wait. Expired and overflowed
// facts are dropped; the caller counts them.
type pendingBuffer struct {
	mu        sync.Mutex
	capPerKey int
	wait      time.Duration
	byKey     map[string][]pendingFact
}

type pendingFact struct {
	fact     *event.Fact
	deadline time.Time
}

func newPendingBuffer(capPerKey int, wait time.Duration) *pendingBuffer {
	return &pendingBuffer{
		capPerKey: capPerKey,
		wait:      wait,
		byKey:     make(map[string][]pendingFact),
	}
}

// Add buffers a fact for its missing key. Returns false when the key's
// buffer is full and the fact was not retained.
func (b *pendingBuffer) Add(f *event.Fact, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.byKey[f.Key]) >= b.capPerKey {
		return false
	}
	b.byKey[f.Key] = append(b.byKey[f.Key], pendingFact{
		fact:     f,
		deadline: now.Add(b.wait),
	})
	return true
}

// Take removes and returns every buffered fact for key, oldest first.
func (b *pendingBuffer) Take(key string) []*event.Fact {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.byKey[key]
	if len(pending) == 0 {
		return nil
	}
	delete(b.byKey, key)

	facts := make([]*event.Fact, len(pending))
	for i, p := range pending {
		facts[i] = p.fact
	}
	return facts
}

// Expire drops every fact whose deadline has passed and returns the count.
func (b *pendingBuffer) Expire(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for key, pending := range b.byKey {
		kept := pending[:0]
		for _, p := range pending {
			if p.deadline.After(now) {
				kept = append(kept, p)
			} else {
				dropped++
			}
		}
		if len(kept) == 0 {
			delete(b.byKey, key)
		} else {
			b.byKey[key] = kept
		}
	}
	return dropped
}

// Len returns the total number of buffered facts.
func (b *pendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, pending := range b.byKey {
		n += len(pending)
	}
	return n
}
