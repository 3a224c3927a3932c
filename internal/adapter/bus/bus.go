// Package bus publishes outbox events to Kafka on behalf of the
// Dispatcher. A publish never retries internally — the Dispatcher owns
// retry scheduling via the outbox row's retry_count/next_retry_at.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// TopicPrefix matches the original event service's "platform.kernel."
// namespace (spec.md §6.3).
const TopicPrefix = "platform.kernel."

// Config holds the Kafka writer settings.
type Config struct {
	Brokers      []string
	WriteTimeout time.Duration
}

// Result reports where a message landed after a successful publish.
type Result struct {
	Topic     string
	Partition int
	Offset    int64
}

// Bus publishes pre-serialized outbox payloads to Kafka, one writer per
// topic so object and relationship events keep their own partition counts
// (10 and 5 respectively per spec.md §6.3).
type Bus struct {
	brokers      []string
	writeTimeout time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// New creates a Bus. Writers are created lazily per topic on first publish
// since the full topic set (one per event type) isn't known up front.
func New(cfg Config) *Bus {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bus{
		brokers:      cfg.Brokers,
		writeTimeout: timeout,
		writers:      make(map[string]*kafka.Writer),
	}
}

func (b *Bus) writerFor(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	b.writers[topic] = w
	return w
}

// Publish writes a single outbox entry's payload to the topic derived from
// its event type, keyed by aggregate id so all events for one aggregate
// land on the same partition and preserve per-aggregate ordering. Returns
// the partition/offset the broker assigned on success.
func (b *Bus) Publish(ctx context.Context, entry domain.OutboxEntry) (Result, error) {
	topic := TopicPrefix + entry.EventType

	ctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(entry.AggregateID.String()),
		Value: entry.Payload,
		Time:  time.Now().UTC(),
	}

	if err := b.writerFor(topic).WriteMessages(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("%w: publish %s: %v", domain.ErrBusUnavailable, topic, err)
	}

	return Result{Topic: topic, Partition: msg.Partition, Offset: msg.Offset}, nil
}

// Close flushes and closes every topic writer.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
