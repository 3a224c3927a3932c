package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an OutboxEntry.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed:
		return true
	}
	return false
}

// DefaultMaxRetries is the default retry ceiling for a new outbox row.
const DefaultMaxRetries = 5

// OutboxEntry is a transactional outbox row: written in the same
// transaction as the state change it describes, then drained
// asynchronously to the bus by the Dispatcher.
type OutboxEntry struct {
	ID             uuid.UUID
	AggregateID    uuid.UUID
	AggregateType  string
	EventType      string
	Payload        []byte // pre-serialized JSON event envelope, see internal/mutator
	Status         OutboxStatus
	RetryCount     int
	MaxRetries     int
	Error          string
	PublishedAt    *time.Time
	Topic          string
	Partition      *int
	Offset         *int64
	NextRetryAt    *time.Time
	IdempotencyKey string
	CreatedAt      time.Time
}

// IdempotencyKey builds the stable idempotency key for an outbox row:
// aggregateType:aggregateID:eventType:createdAt.
func IdempotencyKey(aggregateType string, aggregateID uuid.UUID, eventType string, createdAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", aggregateType, aggregateID, eventType, createdAt.UTC().Format(time.RFC3339Nano))
}

// CanRetry reports whether the entry has retry budget remaining.
func (e OutboxEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// IsTerminal reports whether the entry has exhausted its retry budget
// without succeeding — a dead-letter row within the same table.
func (e OutboxEntry) IsTerminal() bool {
	return e.Status == OutboxStatusFailed && !e.CanRetry()
}

// IsReadyForRetry reports whether a FAILED entry is eligible for another
// publish attempt at the given instant.
func (e OutboxEntry) IsReadyForRetry(now time.Time) bool {
	if e.Status != OutboxStatusFailed || !e.CanRetry() {
		return false
	}
	return e.NextRetryAt == nil || !now.Before(*e.NextRetryAt)
}

// NextRetryBackoff computes the next_retry_at for a row about to be marked
// FAILED with the given post-increment retry count: now + 2^retryCount
// minutes.
func NextRetryBackoff(now time.Time, retryCount int) time.Time {
	minutes := 1 << uint(retryCount) // 2^retryCount
	return now.Add(time.Duration(minutes) * time.Minute)
}
