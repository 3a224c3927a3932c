// Package mutator implements the transactional write path: every public
// operation updates the object row, appends its version, and enqueues an
// outbox event inside one database transaction, then invalidates and
// repopulates the cache after commit. See the package-level protocols on
// each method for the exact per-operation shape.
package mutator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
	"github.com/heartmarshall/myenglish-backend/internal/versioner"
)

// maxOptimisticRetries bounds the re-read/recompute/re-attempt loop for a
// version race, mirroring spec §7's bound of 3 for transient DB retries.
const maxOptimisticRetries = 3

// retryOnVersionConflict runs attempt up to maxOptimisticRetries times,
// retrying whenever it returns domain.ErrConflict — the repository's
// signal that a row's version changed between read and write (spec §5:
// "retry on zero rows affected"). Conflict stays reserved for the
// duplicate-code case, which only Insert can raise and which this helper
// never wraps, so any Conflict seen here is a version race and always
// safe to retry.
func retryOnVersionConflict(attempt func() error) error {
	var err error
	for i := 0; i < maxOptimisticRetries; i++ {
		if err = attempt(); err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return err
}

// ObjectStore is the subset of the object repository the Mutator drives.
// Every method must honor the transaction threaded through ctx (see
// internal/adapter/postgres.QuerierFromCtx).
type ObjectStore interface {
	Insert(ctx context.Context, obj domain.Object) (domain.Object, error)
	Update(ctx context.Context, obj domain.Object, expectedVersion int) (domain.Object, error)
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID, by string, at time.Time, newVersion, expectedVersion int) (domain.Object, error)
	Restore(ctx context.Context, tenantID, id uuid.UUID, by string, at time.Time, newVersion, expectedVersion int) (domain.Object, error)
	ChangeStatus(ctx context.Context, tenantID, id uuid.UUID, newStatus domain.ObjectStatus, by string, at time.Time, newVersion, expectedVersion int) (domain.Object, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Object, error)
	GetByIDAnyState(ctx context.Context, tenantID, id uuid.UUID) (domain.Object, error)
}

// OutboxStore is the subset of the outbox repository the Mutator drives.
type OutboxStore interface {
	Insert(ctx context.Context, entry domain.OutboxEntry) (domain.OutboxEntry, error)
}

// RelationshipStore is the subset of the relationship repository the
// Mutator drives.
type RelationshipStore interface {
	Create(ctx context.Context, rel domain.ObjectRelationship) (domain.ObjectRelationship, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Cache is the subset of the look-aside cache the Mutator drives. Every
// method is advisory: the Mutator logs and proceeds on any Cache error,
// per the cache contract (a mutation must never fail because of the
// cache).
type Cache interface {
	Put(ctx context.Context, obj domain.Object) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// TxManager runs fn within a database transaction, threading the
// transaction handle through the returned context.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MetadataStore is the subset of the metadata cache repository the Mutator
// consults before a write. It is an optional validation input: a type with
// no cached descriptor simply has nothing to check against.
type MetadataStore interface {
	Get(ctx context.Context, typeCode string) (domain.MetadataCache, error)
	Touch(ctx context.Context, typeCode string, at time.Time) error
	MarkStale(ctx context.Context, typeCode string) error
}

// Mutator orchestrates the atomic write path described above.
type Mutator struct {
	tx            TxManager
	store         ObjectStore
	versioner     *versioner.Versioner
	outbox        OutboxStore
	relationships RelationshipStore
	cache         Cache
	metadata      MetadataStore
	log           *slog.Logger
}

// New builds a Mutator. log may be nil, in which case slog.Default() is
// used. metadata may be nil, in which case the type-descriptor check on
// Create/Update is skipped entirely.
func New(tx TxManager, store ObjectStore, v *versioner.Versioner, outbox OutboxStore, relationships RelationshipStore, cache Cache, metadata MetadataStore, log *slog.Logger) *Mutator {
	if log == nil {
		log = slog.Default()
	}
	return &Mutator{tx: tx, store: store, versioner: v, outbox: outbox, relationships: relationships, cache: cache, metadata: metadata, log: log}
}

// checkMetadata consults the cached type descriptor as an optional
// pre-write validation step: an unregistered type or a lookup error is not
// grounds to block a mutation, only an authoritative check would be. A
// descriptor past its TTL (or already flagged) is marked stale so the next
// sync refreshes it; a valid hit bumps its usage stats. Both outcomes are
// best-effort — errors are logged, never propagated.
func (m *Mutator) checkMetadata(ctx context.Context, typeCode string, now time.Time) {
	if m.metadata == nil {
		return
	}
	entry, err := m.metadata.Get(ctx, typeCode)
	if err != nil {
		return
	}
	if !entry.ValidForUse(now) {
		if err := m.metadata.MarkStale(ctx, typeCode); err != nil {
			m.log.WarnContext(ctx, "metadata mark stale failed", "type_code", typeCode, "error", err)
		}
		return
	}
	if err := m.metadata.Touch(ctx, typeCode, now); err != nil {
		m.log.WarnContext(ctx, "metadata touch failed", "type_code", typeCode, "error", err)
	}
}

// eventPayload builds the §6.3 event envelope for an object mutation.
func eventPayload(eventType string, obj domain.Object) ([]byte, error) {
	envelope := map[string]any{
		"eventId":   uuid.New().String(),
		"eventType": eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"source":    "kernel",
		"tenantId":  obj.TenantID.String(),
		"data": map[string]any{
			"objectId":       obj.ID.String(),
			"objectTypeCode": obj.TypeCode,
			"objectCode":     obj.Code,
			"status":         obj.Status.String(),
			"version":        obj.Version,
			"payload":        obj.Data,
		},
	}
	return json.Marshal(envelope)
}

func (m *Mutator) enqueueEvent(ctx context.Context, eventType string, obj domain.Object, now time.Time) error {
	payload, err := eventPayload(eventType, obj)
	if err != nil {
		return fmt.Errorf("build event payload: %w", err)
	}

	entry := domain.OutboxEntry{
		AggregateID:   obj.ID,
		AggregateType: "object",
		EventType:     eventType,
		Payload:       payload,
		MaxRetries:    domain.DefaultMaxRetries,
		CreatedAt:     now,
	}
	entry.IdempotencyKey = domain.IdempotencyKey(entry.AggregateType, entry.AggregateID, entry.EventType, now)

	if _, err := m.outbox.Insert(ctx, entry); err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// putCache repopulates the cache after a successful commit. Errors are
// logged, never propagated — a cache failure must not fail a mutation that
// has already committed.
func (m *Mutator) putCache(ctx context.Context, obj domain.Object) {
	if err := m.cache.Put(ctx, obj); err != nil {
		m.log.WarnContext(ctx, "cache put failed after commit", "object_id", obj.ID, "error", err)
	}
}

// invalidateCache removes a stale cache entry. Errors are logged, never
// propagated.
func (m *Mutator) invalidateCache(ctx context.Context, id uuid.UUID) {
	if err := m.cache.Invalidate(ctx, id); err != nil {
		m.log.WarnContext(ctx, "cache invalidate failed after commit", "object_id", id, "error", err)
	}
}

// Create inserts a brand new object, as described in spec §4.5's create
// protocol: the (tenant, type, code) uniqueness check is the partial unique
// index itself (surfaced as domain.ErrConflict), not a separate
// read-then-write pre-check, since only the database can make that
// decision race-free. checkMetadata runs first as an advisory, non-blocking
// validation step against the type's cached descriptor.
func (m *Mutator) Create(ctx context.Context, actor domain.ActorContext, typeCode, code, name string, data map[string]any) (domain.Object, error) {
	now := time.Now().UTC()
	m.checkMetadata(ctx, typeCode, now)

	obj := domain.Object{
		ID:         uuid.New(),
		TenantID:   actor.TenantID,
		TypeCode:   typeCode,
		Code:       code,
		Name:       name,
		Data:       data,
		Status:     domain.ObjectStatusActive,
		Version:    1,
		CreatedAt:  now,
		CreatedBy:  actor.UserID,
		ModifiedAt: now,
		ModifiedBy: actor.UserID,
		Metadata:   map[string]any{},
	}

	var persisted domain.Object
	err := m.tx.RunInTx(ctx, func(ctx context.Context) error {
		inserted, err := m.store.Insert(ctx, obj)
		if err != nil {
			return err
		}

		if _, err := m.versioner.Append(ctx, inserted.ID, inserted.Version, domain.ChangeTypeCreate,
			nil, inserted.Data, actor, "", now); err != nil {
			return err
		}

		if err := m.enqueueEvent(ctx, "object.created", inserted, now); err != nil {
			return err
		}

		persisted = inserted
		return nil
	})
	if err != nil {
		return domain.Object{}, err
	}

	m.putCache(ctx, persisted)
	return persisted, nil
}

// Update applies an in-place name/data change per spec §4.5's update
// protocol, bumping version by one and recording the structural diff. A
// version race with another writer is resolved by re-reading the row and
// recomputing the change against its new version, bounded at
// maxOptimisticRetries attempts; Conflict reaches the caller only when every
// attempt lost the race.
func (m *Mutator) Update(ctx context.Context, actor domain.ActorContext, id uuid.UUID, name *string, data map[string]any, reason string) (domain.Object, error) {
	var persisted domain.Object
	err := retryOnVersionConflict(func() error {
		current, err := m.store.GetByID(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		m.checkMetadata(ctx, current.TypeCode, now)

		next := current
		if name != nil {
			next.Name = *name
		}
		if data != nil {
			next.Data = data
		}
		next.Version = current.Version + 1
		next.ModifiedAt = now
		next.ModifiedBy = actor.UserID

		return m.tx.RunInTx(ctx, func(ctx context.Context) error {
			updated, err := m.store.Update(ctx, next, current.Version)
			if err != nil {
				return err
			}

			if _, err := m.versioner.Append(ctx, updated.ID, updated.Version, domain.ChangeTypeUpdate,
				current.Data, updated.Data, actor, reason, now); err != nil {
				return err
			}

			if err := m.enqueueEvent(ctx, "object.updated", updated, now); err != nil {
				return err
			}

			persisted = updated
			return nil
		})
	})
	if err != nil {
		return domain.Object{}, err
	}

	m.invalidateCache(ctx, persisted.ID)
	m.putCache(ctx, persisted)
	return persisted, nil
}

// SoftDelete marks the object deleted per spec §4.5's shared delete/
// restore/status-change shape. A version race is resolved by re-reading
// the row and retrying, bounded at maxOptimisticRetries attempts; Conflict
// reaches the caller only when every attempt lost the race.
func (m *Mutator) SoftDelete(ctx context.Context, actor domain.ActorContext, id uuid.UUID, reason string) (domain.Object, error) {
	var persisted domain.Object
	err := retryOnVersionConflict(func() error {
		current, err := m.store.GetByID(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		newVersion := current.Version + 1

		return m.tx.RunInTx(ctx, func(ctx context.Context) error {
			deleted, err := m.store.SoftDelete(ctx, actor.TenantID, id, actor.UserID, now, newVersion, current.Version)
			if err != nil {
				return err
			}

			if _, err := m.versioner.Append(ctx, deleted.ID, deleted.Version, domain.ChangeTypeDelete,
				current.Data, nil, actor, reason, now); err != nil {
				return err
			}

			if err := m.enqueueEvent(ctx, "object.deleted", deleted, now); err != nil {
				return err
			}

			persisted = deleted
			return nil
		})
	})
	if err != nil {
		return domain.Object{}, err
	}

	m.invalidateCache(ctx, persisted.ID)
	return persisted, nil
}

// Restore clears the delete flag, only valid on a currently-deleted row —
// GetByIDAnyState is used (not GetByID) since GetByID never returns a
// deleted row; a live row is rejected with ErrInvalidState. A version race
// is resolved by re-reading the row and retrying, bounded at
// maxOptimisticRetries attempts; Conflict reaches the caller only when
// every attempt lost the race.
func (m *Mutator) Restore(ctx context.Context, actor domain.ActorContext, id uuid.UUID) (domain.Object, error) {
	var persisted domain.Object
	err := retryOnVersionConflict(func() error {
		current, err := m.store.GetByIDAnyState(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !current.Deleted {
			return fmt.Errorf("object %s: not deleted: %w", id, domain.ErrInvalidState)
		}

		now := time.Now().UTC()
		newVersion := current.Version + 1

		return m.tx.RunInTx(ctx, func(ctx context.Context) error {
			restored, err := m.store.Restore(ctx, actor.TenantID, id, actor.UserID, now, newVersion, current.Version)
			if err != nil {
				return err
			}

			if _, err := m.versioner.Append(ctx, restored.ID, restored.Version, domain.ChangeTypeRestore,
				current.Data, restored.Data, actor, "", now); err != nil {
				return err
			}

			if err := m.enqueueEvent(ctx, "object.restored", restored, now); err != nil {
				return err
			}

			persisted = restored
			return nil
		})
	})
	if err != nil {
		return domain.Object{}, err
	}

	m.putCache(ctx, persisted)
	return persisted, nil
}

// ChangeStatus transitions status without touching data, recording the
// transition reason on the version row rather than in the diff (the data
// itself does not change). A version race is resolved by re-reading the
// row and retrying, bounded at maxOptimisticRetries attempts; Conflict
// reaches the caller only when every attempt lost the race.
func (m *Mutator) ChangeStatus(ctx context.Context, actor domain.ActorContext, id uuid.UUID, newStatus domain.ObjectStatus, reason string) (domain.Object, error) {
	if !newStatus.IsValid() {
		return domain.Object{}, domain.NewValidationError("status", "unknown object status")
	}

	var persisted domain.Object
	err := retryOnVersionConflict(func() error {
		current, err := m.store.GetByID(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		newVersion := current.Version + 1

		return m.tx.RunInTx(ctx, func(ctx context.Context) error {
			changed, err := m.store.ChangeStatus(ctx, actor.TenantID, id, newStatus, actor.UserID, now, newVersion, current.Version)
			if err != nil {
				return err
			}

			if _, err := m.versioner.Append(ctx, changed.ID, changed.Version, domain.ChangeTypeStatusChange,
				nil, nil, actor, reason, now); err != nil {
				return err
			}

			if err := m.enqueueEvent(ctx, "object.status_changed", changed, now); err != nil {
				return err
			}

			persisted = changed
			return nil
		})
	})
	if err != nil {
		return domain.Object{}, err
	}

	m.invalidateCache(ctx, persisted.ID)
	m.putCache(ctx, persisted)
	return persisted, nil
}

// relationshipEventPayload builds the §6.3 event envelope for a relationship
// mutation. There is no single owning tenant on an edge, so tenantId is
// omitted; consumers key off sourceId/targetId instead.
func relationshipEventPayload(eventType string, rel domain.ObjectRelationship) ([]byte, error) {
	envelope := map[string]any{
		"eventId":   uuid.New().String(),
		"eventType": eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"source":    "kernel",
		"data": map[string]any{
			"relationshipId": rel.ID.String(),
			"sourceId":       rel.SourceID.String(),
			"targetId":       rel.TargetID.String(),
			"relType":        rel.RelType,
			"cardinality":    rel.Cardinality.String(),
			"bidirectional":  rel.Bidirectional,
		},
	}
	return json.Marshal(envelope)
}

func (m *Mutator) enqueueRelationshipEvent(ctx context.Context, eventType string, rel domain.ObjectRelationship, now time.Time) error {
	payload, err := relationshipEventPayload(eventType, rel)
	if err != nil {
		return fmt.Errorf("build relationship event payload: %w", err)
	}

	entry := domain.OutboxEntry{
		AggregateID:   rel.ID,
		AggregateType: "relationship",
		EventType:     eventType,
		Payload:       payload,
		MaxRetries:    domain.DefaultMaxRetries,
		CreatedAt:     now,
	}
	entry.IdempotencyKey = domain.IdempotencyKey(entry.AggregateType, entry.AggregateID, entry.EventType, now)

	if _, err := m.outbox.Insert(ctx, entry); err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// CreateRelationship links two objects with a typed, directed edge. Both
// endpoints must already exist — enforced by the store's FK constraints,
// surfaced as domain.ErrNotFound — and (source, target, rel_type) must be
// unique, surfaced as domain.ErrConflict. No separate inverse row is
// written for a bidirectional edge: navigation in either direction is
// answered by the query layer alone.
func (m *Mutator) CreateRelationship(ctx context.Context, actor domain.ActorContext, sourceID, targetID uuid.UUID, relType string, cardinality domain.Cardinality, bidirectional bool, inverseType string, strength float64, displayOrder int, metadata map[string]any) (domain.ObjectRelationship, error) {
	if !cardinality.IsValid() {
		return domain.ObjectRelationship{}, domain.NewValidationError("cardinality", "unknown relationship cardinality")
	}

	now := time.Now().UTC()
	rel := domain.ObjectRelationship{
		ID:            uuid.New(),
		SourceID:      sourceID,
		TargetID:      targetID,
		RelType:       relType,
		Cardinality:   cardinality,
		Bidirectional: bidirectional,
		InverseType:   inverseType,
		Strength:      strength,
		DisplayOrder:  displayOrder,
		Metadata:      metadata,
		CreatedAt:     now,
		CreatedBy:     actor.UserID,
	}

	var persisted domain.ObjectRelationship
	err := m.tx.RunInTx(ctx, func(ctx context.Context) error {
		created, err := m.relationships.Create(ctx, rel)
		if err != nil {
			return err
		}

		if err := m.enqueueRelationshipEvent(ctx, "relationship.created", created, now); err != nil {
			return err
		}

		persisted = created
		return nil
	})
	if err != nil {
		return domain.ObjectRelationship{}, err
	}
	return persisted, nil
}

// DeactivateRelationship removes an edge without deleting its row, keeping
// the relationship's history intact. rel must be a previously-fetched
// relationship (e.g. from a list call) — Deactivate itself only needs the
// id, but source/target/rel_type are required to describe the edge in the
// emitted event.
func (m *Mutator) DeactivateRelationship(ctx context.Context, rel domain.ObjectRelationship) error {
	now := time.Now().UTC()
	return m.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := m.relationships.Deactivate(ctx, rel.ID); err != nil {
			return err
		}
		return m.enqueueRelationshipEvent(ctx, "relationship.deleted", rel, now)
	})
}
