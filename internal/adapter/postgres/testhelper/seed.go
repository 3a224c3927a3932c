package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// SeedObject inserts a live (non-deleted) ACTIVE object for tenantID with a
// unique type/code, returning the filled domain.Object.
func SeedObject(t *testing.T, pool *pgxpool.Pool, tenantID uuid.UUID) domain.Object {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	now := time.Now().UTC().Truncate(time.Microsecond)

	obj := domain.Object{
		ID:         uuid.New(),
		TenantID:   tenantID,
		TypeCode:   "widget",
		Code:       "widget-" + suffix,
		Name:       "Widget " + suffix,
		Data:       map[string]any{"color": "blue"},
		Status:     domain.ObjectStatusActive,
		Version:    1,
		Deleted:    false,
		CreatedAt:  now,
		CreatedBy:  "seed",
		ModifiedAt: now,
		ModifiedBy: "seed",
		Metadata:   map[string]any{},
	}

	data, err := json.Marshal(obj.Data)
	if err != nil {
		t.Fatalf("testhelper: SeedObject marshal data: %v", err)
	}
	metadata, err := json.Marshal(obj.Metadata)
	if err != nil {
		t.Fatalf("testhelper: SeedObject marshal metadata: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO _meta_objects (id, tenant_id, type_code, code, name, data, status, version,
			deleted, created_at, created_by, modified_at, modified_by, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $9, $10, $11)`,
		obj.ID, obj.TenantID, obj.TypeCode, obj.Code, obj.Name, data, string(obj.Status), obj.Version,
		obj.CreatedAt, obj.CreatedBy, metadata,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedObject insert: %v", err)
	}

	return obj
}

// SeedObjectVersion inserts the initial CREATE version row for an already
// seeded object.
func SeedObjectVersion(t *testing.T, pool *pgxpool.Pool, obj domain.Object) domain.ObjectVersion {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	v := domain.ObjectVersion{
		ID:            uuid.New(),
		ObjectID:      obj.ID,
		VersionNumber: obj.Version,
		ChangeType:    domain.ChangeTypeCreate,
		CurrentData:   obj.Data,
		ChangedBy:     obj.CreatedBy,
		CreatedAt:     now,
	}

	current, err := json.Marshal(v.CurrentData)
	if err != nil {
		t.Fatalf("testhelper: SeedObjectVersion marshal current_data: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO _meta_object_versions (id, object_id, version_number, change_type,
			previous_data, current_data, changed_by, ip, user_agent, change_reason, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6, '', '', '', $7)`,
		v.ID, v.ObjectID, v.VersionNumber, string(v.ChangeType), current, v.ChangedBy, v.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedObjectVersion insert: %v", err)
	}

	return v
}

// SeedObjectRelationship inserts an active edge between two already-seeded objects.
func SeedObjectRelationship(t *testing.T, pool *pgxpool.Pool, source, target domain.Object) domain.ObjectRelationship {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rel := domain.ObjectRelationship{
		ID:            uuid.New(),
		SourceID:      source.ID,
		TargetID:      target.ID,
		RelType:       "references",
		Cardinality:   domain.CardinalityOneToMany,
		Bidirectional: false,
		Strength:      1.0,
		Active:        true,
		CreatedAt:     now,
		CreatedBy:     "seed",
		Metadata:      map[string]any{},
	}

	metadata, err := json.Marshal(rel.Metadata)
	if err != nil {
		t.Fatalf("testhelper: SeedObjectRelationship marshal metadata: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO _meta_object_relationships (id, source_id, target_id, rel_type, cardinality,
			bidirectional, inverse_type, strength, display_order, metadata, active, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, '', $7, 0, $8, TRUE, $9, $10)`,
		rel.ID, rel.SourceID, rel.TargetID, rel.RelType, string(rel.Cardinality),
		rel.Bidirectional, rel.Strength, metadata, rel.CreatedAt, rel.CreatedBy,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedObjectRelationship insert: %v", err)
	}

	return rel
}

// SeedOutboxEntry inserts a PENDING outbox row for the given aggregate.
func SeedOutboxEntry(t *testing.T, pool *pgxpool.Pool, aggregateID uuid.UUID) domain.OutboxEntry {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := domain.OutboxEntry{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: "object",
		EventType:     "object.created",
		Payload:       []byte(`{"objectId":"` + aggregateID.String() + `"}`),
		Status:        domain.OutboxStatusPending,
		MaxRetries:    domain.DefaultMaxRetries,
		CreatedAt:     now,
	}
	entry.IdempotencyKey = domain.IdempotencyKey(entry.AggregateType, entry.AggregateID, entry.EventType, entry.CreatedAt)

	_, err := pool.Exec(ctx,
		`INSERT INTO _meta_outbox_entries (id, aggregate_id, aggregate_type, event_type, payload,
			status, retry_count, max_retries, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)`,
		entry.ID, entry.AggregateID, entry.AggregateType, entry.EventType, entry.Payload,
		string(entry.Status), entry.MaxRetries, entry.IdempotencyKey, entry.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedOutboxEntry insert: %v", err)
	}

	return entry
}
