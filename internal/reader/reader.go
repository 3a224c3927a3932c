// Package reader implements the read path: get/get_by_code go cache-first,
// falling back to the Store on a miss and repopulating the cache; every
// other listing operation (pagination defeats per-row caching, per spec
// §4.7) is served directly from the Store.
package reader

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Store is the subset of the object repository the Reader drives.
type Store interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Object, error)
	GetByCode(ctx context.Context, tenantID uuid.UUID, typeCode, code string) (domain.Object, error)
	BulkGet(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]domain.Object, error)
	ListByType(ctx context.Context, tenantID uuid.UUID, typeCode string, status *domain.ObjectStatus, page domain.Page) (domain.PageResult[domain.Object], error)
	SearchByName(ctx context.Context, tenantID uuid.UUID, typeCode, term string, page domain.Page) (domain.PageResult[domain.Object], error)
	QueryByAttribute(ctx context.Context, tenantID uuid.UUID, typeCode, key string, value any, page domain.Page) (domain.PageResult[domain.Object], error)
	CountByType(ctx context.Context, tenantID uuid.UUID, typeCode string) (int, error)
}

// Cache is the subset of the look-aside cache the Reader drives.
type Cache interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Object, bool, error)
	GetIDByCode(ctx context.Context, tenantID uuid.UUID, typeCode, code string) (uuid.UUID, bool, error)
	Put(ctx context.Context, obj domain.Object) error
}

// RelationshipStore is the subset of the relationship repository the
// Reader drives. Navigation is symmetric: a relationship is "for" an
// object whether that object is its source or its target, per spec §3's
// non-materialized inverse.
type RelationshipStore interface {
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]domain.ObjectRelationship, error)
	ListByTarget(ctx context.Context, targetID uuid.UUID) ([]domain.ObjectRelationship, error)
}

// VersionStore is the subset of the version repository the Reader drives
// for time-travel reads.
type VersionStore interface {
	FindVersionAt(ctx context.Context, objectID uuid.UUID, at time.Time) (domain.ObjectVersion, error)
}

// Reader serves every read-only query. It holds no mutable state of its
// own — Get/GetByCode consult the cache first and fall back to the Store,
// every other method goes straight to the Store.
type Reader struct {
	store         Store
	cache         Cache
	relationships RelationshipStore
	versions      VersionStore
}

// New builds a Reader.
func New(store Store, cache Cache, relationships RelationshipStore, versions VersionStore) *Reader {
	return &Reader{store: store, cache: cache, relationships: relationships, versions: versions}
}

// Get resolves an object by id: cache hit returns the cached value directly,
// a miss loads from the Store and repopulates the cache. A cache error is
// advisory — treated the same as a miss. Tenant mismatch or a deleted row is
// reported as domain.ErrNotFound, matching "return absent" in spec §4.7.
func (r *Reader) Get(ctx context.Context, tenantID, id uuid.UUID) (domain.Object, error) {
	if obj, ok, err := r.cache.GetByID(ctx, id); err == nil && ok {
		return authorize(obj, tenantID)
	}

	obj, err := r.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return domain.Object{}, err
	}

	_ = r.cache.Put(ctx, obj)
	return obj, nil
}

// GetByCode resolves an object by its (tenant, type, code) key: first
// resolves the id via the code cache key, then delegates to Get; on a miss
// at either cache level it falls through to the Store directly.
func (r *Reader) GetByCode(ctx context.Context, tenantID uuid.UUID, typeCode, code string) (domain.Object, error) {
	if id, ok, err := r.cache.GetIDByCode(ctx, tenantID, typeCode, code); err == nil && ok {
		if obj, err := r.Get(ctx, tenantID, id); err == nil {
			return obj, nil
		}
	}

	obj, err := r.store.GetByCode(ctx, tenantID, typeCode, code)
	if err != nil {
		return domain.Object{}, err
	}

	_ = r.cache.Put(ctx, obj)
	return obj, nil
}

// BulkGet returns every live object among ids visible to tenantID, served
// directly from the Store (no per-row cache lookups).
func (r *Reader) BulkGet(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]domain.Object, error) {
	return r.store.BulkGet(ctx, tenantID, ids)
}

// ListByType returns a page of live objects of typeCode, optionally filtered
// by status. A nil status lists ACTIVE and INACTIVE objects only.
func (r *Reader) ListByType(ctx context.Context, tenantID uuid.UUID, typeCode string, status *domain.ObjectStatus, page domain.Page) (domain.PageResult[domain.Object], error) {
	return r.store.ListByType(ctx, tenantID, typeCode, status, page)
}

// ListByStatus returns a page of live objects of typeCode in the given
// status — a thin convenience wrapper over ListByType's optional status
// filter, matching spec §4.7's "list_by_status" operation name.
func (r *Reader) ListByStatus(ctx context.Context, tenantID uuid.UUID, typeCode string, status domain.ObjectStatus, page domain.Page) (domain.PageResult[domain.Object], error) {
	return r.store.ListByType(ctx, tenantID, typeCode, &status, page)
}

// SearchByName returns a page of live objects of typeCode whose name matches
// term.
func (r *Reader) SearchByName(ctx context.Context, tenantID uuid.UUID, typeCode, term string, page domain.Page) (domain.PageResult[domain.Object], error) {
	return r.store.SearchByName(ctx, tenantID, typeCode, term, page)
}

// FindByAttribute returns a page of live objects of typeCode whose data
// document contains {key: value}.
func (r *Reader) FindByAttribute(ctx context.Context, tenantID uuid.UUID, typeCode, key string, value any, page domain.Page) (domain.PageResult[domain.Object], error) {
	return r.store.QueryByAttribute(ctx, tenantID, typeCode, key, value, page)
}

// CountByType returns the count of live objects of typeCode.
func (r *Reader) CountByType(ctx context.Context, tenantID uuid.UUID, typeCode string) (int, error) {
	return r.store.CountByType(ctx, tenantID, typeCode)
}

// RelationshipsFor returns every active edge touching objectID, whether
// objectID is the source or the target — matching spec §3's decision that
// inverse navigation is answered at the query layer rather than by
// materializing a second row.
func (r *Reader) RelationshipsFor(ctx context.Context, objectID uuid.UUID) ([]domain.ObjectRelationship, error) {
	outgoing, err := r.relationships.ListBySource(ctx, objectID)
	if err != nil {
		return nil, err
	}
	incoming, err := r.relationships.ListByTarget(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return append(outgoing, incoming...), nil
}

// VersionAt answers a time-travel query: the version of objectID in effect
// at instant at, i.e. the one with the largest created_at not after at.
// Unlike Get, this bypasses the cache and tenant-scoping entirely — a
// version row carries no tenant_id of its own, so callers that need
// tenant enforcement must authorize against the current object first.
func (r *Reader) VersionAt(ctx context.Context, objectID uuid.UUID, at time.Time) (domain.ObjectVersion, error) {
	return r.versions.FindVersionAt(ctx, objectID, at)
}

// authorize enforces the tenant-scoping and liveness rule a cache hit can't
// check at the storage layer: the cache is a flat id->object map shared
// across tenants, so a stale or cross-tenant hit must still be rejected.
func authorize(obj domain.Object, tenantID uuid.UUID) (domain.Object, error) {
	if obj.TenantID != tenantID || obj.Deleted {
		return domain.Object{}, domain.ErrNotFound
	}
	return obj, nil
}
