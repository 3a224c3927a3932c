// Package metadata implements the MetadataCache repository using
// PostgreSQL. The cache is keyed by type_code and written through Upsert;
// the mutation pipeline only reads it, touching a valid entry and marking
// an expired one stale.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Repo provides MetadataCache persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new metadata cache repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const cacheColumns = `type_code, descriptor, synced_at, stale, ttl_minutes, usage_count, last_accessed_at`

const upsertSQL = `
INSERT INTO _meta_metadata_cache (type_code, descriptor, synced_at, stale, ttl_minutes, usage_count, last_accessed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (type_code) DO UPDATE SET
	descriptor = EXCLUDED.descriptor,
	synced_at = EXCLUDED.synced_at,
	stale = EXCLUDED.stale,
	ttl_minutes = EXCLUDED.ttl_minutes
RETURNING ` + cacheColumns

// Upsert stores a descriptor for a type, writing the stale flag entry
// carries (false for a freshly-synced descriptor). usage_count and
// last_accessed_at are left untouched for an existing row; a brand new row
// takes both from entry.
func (r *Repo) Upsert(ctx context.Context, entry domain.MetadataCache) (domain.MetadataCache, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	descriptor, err := json.Marshal(entry.Descriptor)
	if err != nil {
		return domain.MetadataCache{}, fmt.Errorf("metadata_cache %s marshal descriptor: %w", entry.TypeCode, err)
	}

	row := querier.QueryRow(ctx, upsertSQL,
		entry.TypeCode, descriptor, entry.SyncedAt, entry.Stale, entry.TTLMinutes,
		entry.UsageCount, entry.LastAccessedAt,
	)

	persisted, err := scanEntry(row)
	if err != nil {
		return domain.MetadataCache{}, mapError(err, entry.TypeCode)
	}
	return persisted, nil
}

const getSQL = `SELECT ` + cacheColumns + ` FROM _meta_metadata_cache WHERE type_code = $1`

// Get returns the cached descriptor for a type, or domain.ErrNotFound if
// the type has never been synced.
func (r *Repo) Get(ctx context.Context, typeCode string) (domain.MetadataCache, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	row := querier.QueryRow(ctx, getSQL, typeCode)
	entry, err := scanEntry(row)
	if err != nil {
		return domain.MetadataCache{}, mapError(err, typeCode)
	}
	return entry, nil
}

const touchSQL = `
UPDATE _meta_metadata_cache
SET usage_count = usage_count + 1, last_accessed_at = $2
WHERE type_code = $1`

// Touch bumps the usage counter and last-accessed timestamp for a cache hit.
func (r *Repo) Touch(ctx context.Context, typeCode string, at time.Time) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, touchSQL, typeCode, at)
	if err != nil {
		return mapError(err, typeCode)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrNotFound)
	}
	return nil
}

const markStaleSQL = `UPDATE _meta_metadata_cache SET stale = TRUE WHERE type_code = $1`

// MarkStale flags a cached descriptor as no longer trustworthy: ValidForUse
// reports false for it until an Upsert writes the row with the flag cleared.
func (r *Repo) MarkStale(ctx context.Context, typeCode string) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, markStaleSQL, typeCode)
	if err != nil {
		return mapError(err, typeCode)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.MetadataCache, error) {
	var (
		m          domain.MetadataCache
		descriptor []byte
	)

	err := row.Scan(
		&m.TypeCode, &descriptor, &m.SyncedAt, &m.Stale, &m.TTLMinutes, &m.UsageCount, &m.LastAccessedAt,
	)
	if err != nil {
		return domain.MetadataCache{}, err
	}

	if len(descriptor) > 0 {
		d := make(map[string]any)
		if err := json.Unmarshal(descriptor, &d); err != nil {
			return domain.MetadataCache{}, fmt.Errorf("metadata_cache %s unmarshal descriptor: %w", m.TypeCode, err)
		}
		m.Descriptor = d
	}
	return m, nil
}
