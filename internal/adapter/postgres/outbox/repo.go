// Package outbox implements the OutboxEntry repository using PostgreSQL.
// Reads that feed the Dispatcher's publish loop claim rows with
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent dispatcher replicas never
// publish the same row twice.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Repo provides OutboxEntry persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new outbox repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const outboxColumns = `id, aggregate_id, aggregate_type, event_type, payload, status, retry_count,
	max_retries, error, published_at, topic, partition, "offset", next_retry_at, idempotency_key, created_at`

const insertSQL = `
INSERT INTO _meta_outbox_entries (id, aggregate_id, aggregate_type, event_type, payload, status,
	retry_count, max_retries, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, $6, $7, $8)
RETURNING ` + outboxColumns

// Insert creates a new PENDING outbox row. Called in the same transaction as
// the object mutation it records; duplicate idempotency_key is surfaced as
// domain.ErrConflict.
func (r *Repo) Insert(ctx context.Context, entry domain.OutboxEntry) (domain.OutboxEntry, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.MaxRetries == 0 {
		entry.MaxRetries = domain.DefaultMaxRetries
	}

	row := querier.QueryRow(ctx, insertSQL,
		entry.ID, entry.AggregateID, entry.AggregateType, entry.EventType, entry.Payload,
		entry.MaxRetries, entry.IdempotencyKey, entry.CreatedAt,
	)

	persisted, err := scanEntry(row)
	if err != nil {
		return domain.OutboxEntry{}, mapError(err, "outbox_entry", entry.ID)
	}
	return persisted, nil
}

// claimPendingSQL selects PENDING rows oldest-first, at most one per
// aggregate_id so the bus preserves per-aggregate ordering (spec §4.6), and
// locks them so a concurrent dispatcher replica skips straight past.
const claimPendingSQL = `
SELECT ` + outboxColumns + `
FROM _meta_outbox_entries
WHERE status = 'PENDING'
  AND id IN (
    SELECT DISTINCT ON (aggregate_id) id
    FROM _meta_outbox_entries
    WHERE status = 'PENDING'
    ORDER BY aggregate_id, created_at ASC
  )
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

// ClaimPending locks and returns up to batchSize PENDING rows, one per
// aggregate, oldest first. Must be called within a transaction the caller
// commits or rolls back after publishing (the dispatcher's per-batch unit of
// work).
func (r *Repo) ClaimPending(ctx context.Context, batchSize int) ([]domain.OutboxEntry, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, claimPendingSQL, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// claimRetrySQL mirrors ClaimPending but for FAILED rows still within their
// retry budget and due for another attempt.
const claimRetrySQL = `
SELECT ` + outboxColumns + `
FROM _meta_outbox_entries
WHERE status = 'FAILED'
  AND retry_count < max_retries
  AND (next_retry_at <= $1 OR next_retry_at IS NULL)
  AND id IN (
    SELECT DISTINCT ON (aggregate_id) id
    FROM _meta_outbox_entries
    WHERE status = 'FAILED' AND retry_count < max_retries
      AND (next_retry_at <= $1 OR next_retry_at IS NULL)
    ORDER BY aggregate_id, created_at ASC
  )
ORDER BY created_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`

// ClaimRetryable locks and returns up to batchSize FAILED-but-retryable rows
// due as of now.
func (r *Repo) ClaimRetryable(ctx context.Context, now time.Time, batchSize int) ([]domain.OutboxEntry, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, claimRetrySQL, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim retryable outbox entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

const markPublishedSQL = `
UPDATE _meta_outbox_entries
SET status = 'PUBLISHED', published_at = $1, topic = $2, partition = $3, "offset" = $4, error = ''
WHERE id = $5`

// MarkPublished records a successful publish.
func (r *Repo) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time, topic string, partition int, offset int64) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	_, err := querier.Exec(ctx, markPublishedSQL, publishedAt, topic, partition, offset, id)
	if err != nil {
		return mapError(err, "outbox_entry", id)
	}
	return nil
}

const markFailedSQL = `
UPDATE _meta_outbox_entries
SET status = 'FAILED', error = $1, retry_count = $2, next_retry_at = $3
WHERE id = $4`

// MarkFailed records a failed publish attempt, storing the retry_count and
// next_retry_at the caller computed (the Dispatcher applies the
// 2^retryCount-minute backoff). Rows that reach max_retries remain FAILED
// forever (a dead-letter state).
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int, nextRetryAt *time.Time) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	_, err := querier.Exec(ctx, markFailedSQL, errMsg, retryCount, nextRetryAt, id)
	if err != nil {
		return mapError(err, "outbox_entry", id)
	}
	return nil
}

const cleanupPublishedSQL = `DELETE FROM _meta_outbox_entries WHERE status = 'PUBLISHED' AND published_at < $1`

// CleanupPublished deletes PUBLISHED rows older than the retention cutoff,
// returning the number of rows removed.
func (r *Repo) CleanupPublished(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, cleanupPublishedSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup published outbox entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.OutboxEntry, error) {
	var (
		e      domain.OutboxEntry
		status string
	)

	err := row.Scan(
		&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Payload, &status, &e.RetryCount,
		&e.MaxRetries, &e.Error, &e.PublishedAt, &e.Topic, &e.Partition, &e.Offset, &e.NextRetryAt,
		&e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		return domain.OutboxEntry{}, err
	}
	e.Status = domain.OutboxStatus(status)
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]domain.OutboxEntry, error) {
	var entries []domain.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.OutboxEntry{}
	}
	return entries, nil
}
