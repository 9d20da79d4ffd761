// Package memlog is an in-memory implementation of the eventlog interfaces.
// It preserves the semantics that matter to consumers (per-key partition
// ordering, blocking fetch, explicit commits with redelivery of uncommitted
// records to a restarted consumer) without any external broker. Used by
// tests and by the single-node "memory" log driver.
package memlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orderflow-lab/orderflow/internal/core/partition"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
)

// Log is an in-memory partitioned append log with consumer-group offsets.
type Log struct {
	mu     sync.Mutex
	topics map[string]*topic
	groups map[groupKey][]int64 // committed next-offset per partition
}

type groupKey struct {
	topic string
	group string
}

type topic struct {
	partitions [][]eventlog.Record

	// signal is closed and replaced on every append so blocked
	// consumers wake up. Guarded by the owning Log's mutex.
	signal chan struct{}
}

// New creates an empty log. Topics are created on first use.
func New() *Log {
	return &Log{
		topics: make(map[string]*topic),
		groups: make(map[groupKey][]int64),
	}
}

func (l *Log) topicLocked(name string) *topic {
	t, ok := l.topics[name]
	if !ok {
		t = &topic{
			partitions: make([][]eventlog.Record, partition.Count),
			signal:     make(chan struct{}),
		}
		l.topics[name] = t
	}
	return t
}

// Append adds a record to the partition derived from key.
func (l *Log) Append(topicName string, key, value []byte) eventlog.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.topicLocked(topicName)
	p := partition.For(string(key))
	rec := eventlog.Record{
		Topic:     topicName,
		Partition: p,
		Offset:    int64(len(t.partitions[p])),
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Time:      time.Now().UTC(),
	}
	t.partitions[p] = append(t.partitions[p], rec)

	close(t.signal)
	t.signal = make(chan struct{})
	return rec
}

// Writer returns an eventlog.Writer that appends to the named topic.
func (l *Log) Writer(topicName string) eventlog.Writer {
	return &writer{log: l, topic: topicName}
}

type writer struct {
	log   *Log
	topic string
}

func (w *writer) Write(_ context.Context, key, value []byte) error {
	w.log.Append(w.topic, key, value)
	return nil
}

func (w *writer) Close() error { return nil }

// NewConsumer creates a consumer for the named topic and group. Its read
// positions start at the group's committed offsets, so records fetched but
// never committed by a previous consumer are delivered again, which is the
// at-least-once contract.
func (l *Log) NewConsumer(topicName, group string) eventlog.Consumer {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.topicLocked(topicName)
	gk := groupKey{topic: topicName, group: group}
	if _, ok := l.groups[gk]; !ok {
		l.groups[gk] = make([]int64, partition.Count)
	}

	positions := make([]int64, partition.Count)
	copy(positions, l.groups[gk])

	return &consumer{
		log:       l,
		topic:     topicName,
		group:     gk,
		positions: positions,
	}
}

type consumer struct {
	log       *Log
	topic     string
	group     groupKey
	positions []int64 // next in-flight offset per partition
	next      int     // round-robin cursor over partitions
	closed    bool
}

// Fetch returns the next available record across partitions, blocking until
// one is appended or ctx is cancelled. Round-robins partitions so one hot
// key cannot starve the rest.
func (c *consumer) Fetch(ctx context.Context) (eventlog.Record, error) {
	for {
		c.log.mu.Lock()
		if c.closed {
			c.log.mu.Unlock()
			return eventlog.Record{}, fmt.Errorf("memlog: consumer closed")
		}
		t := c.log.topics[c.topic]
		for i := 0; i < partition.Count; i++ {
			p := (c.next + i) % partition.Count
			if c.positions[p] < int64(len(t.partitions[p])) {
				rec := t.partitions[p][c.positions[p]]
				c.positions[p]++
				c.next = (p + 1) % partition.Count
				c.log.mu.Unlock()
				return rec, nil
			}
		}
		signal := t.signal
		c.log.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return eventlog.Record{}, ctx.Err()
		}
	}
}

// Commit advances the group's durable offset for the record's partition.
// Out-of-order commits are absorbed: the offset never moves backwards.
func (c *consumer) Commit(_ context.Context, rec eventlog.Record) error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	committed := c.log.groups[c.group]
	if rec.Offset+1 > committed[rec.Partition] {
		committed[rec.Partition] = rec.Offset + 1
	}
	return nil
}

func (c *consumer) Close() error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	c.closed = true
	return nil
}
