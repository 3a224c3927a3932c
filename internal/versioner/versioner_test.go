package versioner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

type fakeStore struct {
	appended []domain.ObjectVersion
	err      error
}

func (f *fakeStore) Append(_ context.Context, v domain.ObjectVersion) (domain.ObjectVersion, error) {
	if f.err != nil {
		return domain.ObjectVersion{}, f.err
	}
	f.appended = append(f.appended, v)
	return v, nil
}

func TestAppend_Create_NoDiff(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	v := New(store)

	objectID := uuid.New()
	actor := domain.ActorContext{UserID: "user-1", IP: "10.0.0.1", UserAgent: "ua"}
	current := map[string]any{"a": 1.0}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	row, err := v.Append(context.Background(), objectID, 1, domain.ChangeTypeCreate, nil, current, actor, "", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Diff != nil {
		t.Fatalf("expected nil diff for CREATE, got %+v", row.Diff)
	}
	if !row.IsInitial() {
		t.Fatal("expected version 1 to be initial")
	}
	if row.PreviousData != nil {
		t.Fatalf("expected nil previous data, got %+v", row.PreviousData)
	}
	if !row.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at to match caller-supplied timestamp, got %v", row.CreatedAt)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected 1 appended row, got %d", len(store.appended))
	}
}

func TestAppend_Update_ComputesDiff(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	v := New(store)

	objectID := uuid.New()
	actor := domain.ActorContext{UserID: "user-1"}
	prev := map[string]any{"a": 1.0, "b": 2.0}
	curr := map[string]any{"a": 1.0, "b": 3.0, "c": 4.0}

	row, err := v.Append(context.Background(), objectID, 2, domain.ChangeTypeUpdate, prev, curr, actor, "bulk edit", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Diff == nil {
		t.Fatal("expected non-nil diff for UPDATE")
	}
	if row.Diff.Modified["b"] != (domain.ModifiedField{Old: 2.0, New: 3.0}) {
		t.Fatalf("unexpected modified: %+v", row.Diff.Modified)
	}
	if row.Diff.Added["c"] != 4.0 {
		t.Fatalf("unexpected added: %+v", row.Diff.Added)
	}
	if row.ChangeReason != "bulk edit" {
		t.Fatalf("expected change reason to round-trip, got %q", row.ChangeReason)
	}
}

func TestAppend_Delete_NoDiff(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	v := New(store)

	prev := map[string]any{"a": 1.0}
	row, err := v.Append(context.Background(), uuid.New(), 3, domain.ChangeTypeDelete, prev, nil, domain.ActorContext{}, "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Diff != nil {
		t.Fatalf("expected nil diff for DELETE, got %+v", row.Diff)
	}
	if row.CurrentData != nil {
		t.Fatalf("expected nil current data, got %+v", row.CurrentData)
	}
}

func TestAppend_InvalidChangeType(t *testing.T) {
	t.Parallel()

	v := New(&fakeStore{})
	_, err := v.Append(context.Background(), uuid.New(), 1, domain.ChangeType("BOGUS"), nil, nil, domain.ActorContext{}, "", time.Now())
	if err == nil {
		t.Fatal("expected error for invalid change type")
	}
}

func TestAppend_StoreError_Propagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("db down")
	v := New(&fakeStore{err: wantErr})

	_, err := v.Append(context.Background(), uuid.New(), 1, domain.ChangeTypeCreate, nil, map[string]any{}, domain.ActorContext{}, "", time.Now())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
}
