package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/outbox"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

func newRepo(t *testing.T) (*outbox.Repo, *pgxpool.Pool) {
	t.Helper()
	pool := testhelper.SetupTestDB(t)
	return outbox.New(pool), pool
}

func TestRepo_Insert_AndClaimPending(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)
	now := time.Now().UTC().Truncate(time.Microsecond)

	entry := domain.OutboxEntry{
		AggregateID:   obj.ID,
		AggregateType: "object",
		EventType:     "object.created",
		Payload:       []byte(`{"objectId":"` + obj.ID.String() + `"}`),
		CreatedAt:     now,
	}
	entry.IdempotencyKey = domain.IdempotencyKey(entry.AggregateType, entry.AggregateID, entry.EventType, entry.CreatedAt)

	created, err := repo.Insert(ctx, entry)
	if err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}
	if created.Status != domain.OutboxStatusPending {
		t.Errorf("expected PENDING status, got %s", created.Status)
	}
	if created.MaxRetries != domain.DefaultMaxRetries {
		t.Errorf("expected default max retries, got %d", created.MaxRetries)
	}

	claimed, err := repo.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPending: unexpected error: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != created.ID {
		t.Fatalf("expected to claim the inserted entry, got %+v", claimed)
	}
}

func TestRepo_Insert_DuplicateIdempotencyKey_Conflict(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)
	existing := testhelper.SeedOutboxEntry(t, pool, obj.ID)

	_, err := repo.Insert(ctx, domain.OutboxEntry{
		AggregateID:    obj.ID,
		AggregateType:  existing.AggregateType,
		EventType:      existing.EventType,
		Payload:        existing.Payload,
		IdempotencyKey: existing.IdempotencyKey,
		CreatedAt:      existing.CreatedAt,
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected domain.ErrConflict inserting a duplicate idempotency key, got %v", err)
	}
}

func TestRepo_ClaimPending_OnePerAggregate(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)

	first := testhelper.SeedOutboxEntry(t, pool, obj.ID)
	_, err := pool.Exec(ctx,
		`INSERT INTO _meta_outbox_entries (id, aggregate_id, aggregate_type, event_type, payload,
			status, retry_count, max_retries, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, $6, $7, $8)`,
		uuid.New(), obj.ID, "object", "object.updated", []byte(`{}`),
		domain.DefaultMaxRetries, "second-key", first.CreatedAt.Add(time.Second),
	)
	if err != nil {
		t.Fatalf("seed second entry: %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPending: unexpected error: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected exactly 1 claimed entry per aggregate, got %d", len(claimed))
	}
	if claimed[0].ID != first.ID {
		t.Errorf("expected the oldest entry to be claimed, got %s", claimed[0].EventType)
	}
}

func TestRepo_MarkPublished(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)
	entry := testhelper.SeedOutboxEntry(t, pool, obj.ID)

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.MarkPublished(ctx, entry.ID, now, "objects.events", 0, 42); err != nil {
		t.Fatalf("MarkPublished: unexpected error: %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPending: unexpected error: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no pending entries after publish, got %d", len(claimed))
	}
}

func TestRepo_MarkFailed_AndClaimRetryable(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)
	entry := testhelper.SeedOutboxEntry(t, pool, obj.ID)

	past := time.Now().UTC().Add(-time.Minute)
	if err := repo.MarkFailed(ctx, entry.ID, "publish timeout", 1, &past); err != nil {
		t.Fatalf("MarkFailed: unexpected error: %v", err)
	}

	retryable, err := repo.ClaimRetryable(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimRetryable: unexpected error: %v", err)
	}
	if len(retryable) != 1 || retryable[0].ID != entry.ID {
		t.Fatalf("expected the failed entry to be retryable, got %+v", retryable)
	}
	if retryable[0].RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", retryable[0].RetryCount)
	}
}

func TestRepo_MarkFailed_ExhaustedRetries_NotClaimable(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)
	entry := testhelper.SeedOutboxEntry(t, pool, obj.ID)

	past := time.Now().UTC().Add(-time.Minute)
	if err := repo.MarkFailed(ctx, entry.ID, "permanent failure", domain.DefaultMaxRetries, &past); err != nil {
		t.Fatalf("MarkFailed: unexpected error: %v", err)
	}

	retryable, err := repo.ClaimRetryable(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ClaimRetryable: unexpected error: %v", err)
	}
	if len(retryable) != 0 {
		t.Fatalf("expected entry at max retries to not be claimable, got %d", len(retryable))
	}
}

func TestRepo_CleanupPublished(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	tenantID := uuid.New()
	obj := testhelper.SeedObject(t, pool, tenantID)
	entry := testhelper.SeedOutboxEntry(t, pool, obj.ID)

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := repo.MarkPublished(ctx, entry.ID, old, "objects.events", 0, 1); err != nil {
		t.Fatalf("MarkPublished: unexpected error: %v", err)
	}

	deleted, err := repo.CleanupPublished(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupPublished: unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted, got %d", deleted)
	}
}
