// Package kafka adapts a Kafka cluster to the eventlog interfaces.
// Offset management is fully explicit: FetchMessage never auto-commits, and
// Commit maps to CommitMessages, so a crash between effect and commit
// results in redelivery rather than loss.
package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/orderflow-lab/orderflow/internal/eventlog"
)

// ConsumerConfig carries the connection settings for one topic consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer implements eventlog.Consumer on top of a kafka-go Reader.
type Consumer struct {
	reader *kafkago.Reader
}

// NewConsumer creates a consumer-group reader for cfg.Topic.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers must not be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka consumer: topic must not be empty")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer: group id must not be empty")
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,  // 1KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
		// CommitInterval stays zero: commits are synchronous and explicit.
	})
	return &Consumer{reader: r}, nil
}

// Fetch blocks for the next message without committing its offset.
func (c *Consumer) Fetch(ctx context.Context) (eventlog.Record, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return eventlog.Record{}, fmt.Errorf("kafka fetch: %w", err)
	}
	return eventlog.Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

// Commit marks the record's offset consumed for the group.
func (c *Consumer) Commit(ctx context.Context, rec eventlog.Record) error {
	msg := kafkago.Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Writer implements eventlog.Writer on top of a kafka-go Writer.
// The Hash balancer keeps all records for one key on one partition, which
// is what the re-key stage relies on for per-group ordering.
type Writer struct {
	writer *kafkago.Writer
}

// NewWriter creates a key-hashed writer for the given topic.
func NewWriter(brokers []string, topic string) (*Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka writer: brokers must not be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka writer: topic must not be empty")
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}
	return &Writer{writer: w}, nil
}

// Write appends one record, blocking until the broker acknowledges it.
// Synchronous on purpose: the caller commits its inbound offset only after
// Write returns, so an unacknowledged record is retried via redelivery.
func (w *Writer) Write(ctx context.Context, key, value []byte) error {
	err := w.writer.WriteMessages(ctx, kafkago.Message{
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}
