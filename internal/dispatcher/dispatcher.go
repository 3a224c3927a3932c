// Package dispatcher drains the transactional outbox to the event bus: a
// pending worker publishes newly-written rows, a retry worker re-attempts
// rows that previously failed within their retry budget, and a cleanup
// sweeper deletes old PUBLISHED rows. All three run as independent
// ticker-driven goroutines safe to run across multiple process replicas —
// see internal/adapter/postgres/outbox's FOR UPDATE SKIP LOCKED claiming.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/myenglish-backend/internal/adapter/bus"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// OutboxStore is the subset of the outbox repository the Dispatcher drives.
// Every method must honor the transaction threaded through ctx (see
// internal/adapter/postgres.QuerierFromCtx) so a batch's claim and its
// publish outcomes commit or roll back together.
type OutboxStore interface {
	ClaimPending(ctx context.Context, batchSize int) ([]domain.OutboxEntry, error)
	ClaimRetryable(ctx context.Context, now time.Time, batchSize int) ([]domain.OutboxEntry, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time, topic string, partition int, offset int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int, nextRetryAt *time.Time) error
	CleanupPublished(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher is the subset of the bus client the Dispatcher drives.
type Publisher interface {
	Publish(ctx context.Context, entry domain.OutboxEntry) (bus.Result, error)
}

// TxManager runs fn within a database transaction, threading the
// transaction handle through the returned context.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config controls the Dispatcher's polling/retry/cleanup schedule, sourced
// from config.DispatcherConfig.
type Config struct {
	PollInterval      time.Duration
	RetryPollInterval time.Duration
	CleanupInterval   time.Duration
	BatchSize         int
	RetentionPeriod   time.Duration
}

// Dispatcher drains the outbox via three independent ticker-driven loops.
type Dispatcher struct {
	tx        TxManager
	outbox    OutboxStore
	publisher Publisher
	cfg       Config
	log       *slog.Logger
}

// New builds a Dispatcher. log may be nil, in which case slog.Default() is
// used.
func New(tx TxManager, outbox OutboxStore, publisher Publisher, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{tx: tx, outbox: outbox, publisher: publisher, cfg: cfg, log: log}
}

// Run starts the pending worker, retry worker, and cleanup sweeper and
// blocks until ctx is canceled, at which point it waits for all three to
// finish their current tick before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		d.loop(ctx, "pending", d.cfg.PollInterval, d.runPending)
	}()
	go func() {
		defer wg.Done()
		d.loop(ctx, "retry", d.cfg.RetryPollInterval, d.runRetryable)
	}()
	go func() {
		defer wg.Done()
		d.loop(ctx, "cleanup", d.cfg.CleanupInterval, d.runCleanup)
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

// loop runs fn once immediately, then on every tick of interval, until ctx
// is canceled.
func (d *Dispatcher) loop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		d.log.ErrorContext(ctx, "dispatcher tick failed", "worker", name, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				d.log.ErrorContext(ctx, "dispatcher tick failed", "worker", name, "error", err)
			}
		}
	}
}

// runPending claims and publishes a batch of PENDING rows within one
// transaction: the claim's row locks are held for the duration of the
// batch's publish attempts, which is safe because concurrent dispatcher
// replicas use SELECT ... FOR UPDATE SKIP LOCKED and simply skip past rows
// this transaction holds rather than blocking on them.
func (d *Dispatcher) runPending(ctx context.Context) error {
	return d.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := d.outbox.ClaimPending(ctx, d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim pending: %w", err)
		}
		return d.publishBatch(ctx, entries, time.Now().UTC())
	})
}

// runRetryable claims and publishes a batch of FAILED-but-retryable rows due
// as of now.
func (d *Dispatcher) runRetryable(ctx context.Context) error {
	now := time.Now().UTC()
	return d.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := d.outbox.ClaimRetryable(ctx, now, d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim retryable: %w", err)
		}
		return d.publishBatch(ctx, entries, now)
	})
}

// publishBatch publishes every claimed entry and records its outcome. A
// per-entry publish failure is recorded as a FAILED row with backoff
// scheduling, not returned — one bad message must never block the rest of
// the batch or roll back the whole transaction.
func (d *Dispatcher) publishBatch(ctx context.Context, entries []domain.OutboxEntry, now time.Time) error {
	for _, entry := range entries {
		result, err := d.publisher.Publish(ctx, entry)
		if err != nil {
			if markErr := d.markFailed(ctx, entry, now, err); markErr != nil {
				return fmt.Errorf("mark outbox entry %s failed: %w", entry.ID, markErr)
			}
			d.log.WarnContext(ctx, "outbox publish failed", "entry_id", entry.ID, "event_type", entry.EventType, "error", err)
			continue
		}

		if err := d.outbox.MarkPublished(ctx, entry.ID, now, result.Topic, result.Partition, result.Offset); err != nil {
			return fmt.Errorf("mark outbox entry %s published: %w", entry.ID, err)
		}
	}
	return nil
}

// markFailed increments retry_count and schedules the next attempt per the
// 2^retry_count-minute backoff. A row that has exhausted max_retries stays
// FAILED forever — a dead-letter state distinguishable by retry_count >=
// max_retries within the same table.
func (d *Dispatcher) markFailed(ctx context.Context, entry domain.OutboxEntry, now time.Time, publishErr error) error {
	retryCount := entry.RetryCount + 1

	var nextRetryAt *time.Time
	if retryCount < entry.MaxRetries {
		at := domain.NextRetryBackoff(now, retryCount)
		nextRetryAt = &at
	}

	return d.outbox.MarkFailed(ctx, entry.ID, publishErr.Error(), retryCount, nextRetryAt)
}

// runCleanup deletes PUBLISHED rows older than the retention period.
func (d *Dispatcher) runCleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-d.cfg.RetentionPeriod)

	deleted, err := d.outbox.CleanupPublished(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup published: %w", err)
	}
	if deleted > 0 {
		d.log.InfoContext(ctx, "cleaned up published outbox entries", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}
