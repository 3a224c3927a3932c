// Package object implements the Object repository using PostgreSQL.
// Simple CRUD uses hand-written parameterized SQL; the dynamic filter/search
// queries build their WHERE clause with Masterminds/squirrel since the set of
// predicates varies per call (type, status, attribute, search term).
package object

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Repo provides Object persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new object repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const objectColumns = `id, tenant_id, type_code, code, name, data, status, version,
	deleted, deleted_at, deleted_by, created_at, created_by, modified_at, modified_by, metadata`

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

const insertObjectSQL = `
INSERT INTO _meta_objects (id, tenant_id, type_code, code, name, data, status, version,
	deleted, created_at, created_by, modified_at, modified_by, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $9, $10, $11)
RETURNING ` + objectColumns

// Insert creates a new object row. Callers are responsible for tenant-scoped
// uniqueness checking beforehand (the partial unique index enforces it as a
// final backstop, surfaced as domain.ErrConflict via mapError).
func (r *Repo) Insert(ctx context.Context, obj domain.Object) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	data, err := json.Marshal(obj.Data)
	if err != nil {
		return domain.Object{}, fmt.Errorf("object %s marshal data: %w", obj.ID, err)
	}
	metadata, err := json.Marshal(obj.Metadata)
	if err != nil {
		return domain.Object{}, fmt.Errorf("object %s marshal metadata: %w", obj.ID, err)
	}

	row := querier.QueryRow(ctx, insertObjectSQL,
		obj.ID, obj.TenantID, obj.TypeCode, obj.Code, obj.Name, data, obj.Status, obj.Version,
		obj.CreatedAt, obj.CreatedBy, metadata,
	)

	persisted, err := scanObject(row)
	if err != nil {
		return domain.Object{}, mapError(err, "object", obj.ID)
	}
	return persisted, nil
}

const updateObjectSQL = `
UPDATE _meta_objects
SET name = $1, data = $2, status = $3, version = $4, modified_at = $5, modified_by = $6, metadata = $7
WHERE id = $8 AND tenant_id = $9 AND version = $10 AND deleted = FALSE
RETURNING ` + objectColumns

// Update applies an in-place change (name/data/status) and bumps version by
// exactly one, guarded by an optimistic check on the previous version number.
// Returns domain.ErrConflict if expectedVersion no longer matches — the
// caller (Mutator) treats that as a concurrent-writer race, not a duplicate
// code.
func (r *Repo) Update(ctx context.Context, obj domain.Object, expectedVersion int) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	data, err := json.Marshal(obj.Data)
	if err != nil {
		return domain.Object{}, fmt.Errorf("object %s marshal data: %w", obj.ID, err)
	}
	metadata, err := json.Marshal(obj.Metadata)
	if err != nil {
		return domain.Object{}, fmt.Errorf("object %s marshal metadata: %w", obj.ID, err)
	}

	row := querier.QueryRow(ctx, updateObjectSQL,
		obj.Name, data, obj.Status, obj.Version, obj.ModifiedAt, obj.ModifiedBy, metadata,
		obj.ID, obj.TenantID, expectedVersion,
	)

	persisted, err := scanObject(row)
	if err != nil {
		if pe := mapError(err, "object", obj.ID); isNotFound(pe) {
			return domain.Object{}, fmt.Errorf("object %s: version changed concurrently: %w", obj.ID, domain.ErrConflict)
		}
		return domain.Object{}, mapError(err, "object", obj.ID)
	}
	return persisted, nil
}

const softDeleteSQL = `
UPDATE _meta_objects
SET status = 'DELETED', deleted = TRUE, deleted_at = $1, deleted_by = $2,
	version = $3, modified_at = $1, modified_by = $2
WHERE id = $4 AND tenant_id = $5 AND version = $6 AND deleted = FALSE
RETURNING ` + objectColumns

// SoftDelete marks the row deleted, bumping version. Guarded the same way as Update.
func (r *Repo) SoftDelete(ctx context.Context, tenantID, id uuid.UUID, by string, at time.Time, newVersion, expectedVersion int) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	row := querier.QueryRow(ctx, softDeleteSQL, at, by, newVersion, id, tenantID, expectedVersion)
	persisted, err := scanObject(row)
	if err != nil {
		if pe := mapError(err, "object", id); isNotFound(pe) {
			return domain.Object{}, fmt.Errorf("object %s: version changed concurrently: %w", id, domain.ErrConflict)
		}
		return domain.Object{}, mapError(err, "object", id)
	}
	return persisted, nil
}

const restoreSQL = `
UPDATE _meta_objects
SET status = 'ACTIVE', deleted = FALSE, deleted_at = NULL, deleted_by = NULL,
	version = $1, modified_at = $2, modified_by = $3
WHERE id = $4 AND tenant_id = $5 AND version = $6 AND deleted = TRUE
RETURNING ` + objectColumns

// Restore clears the delete fields and bumps version. Only applies to rows
// currently marked deleted: a zero-row UPDATE is resolved by isDeleted into
// either ErrInvalidState (the row isn't deleted) or ErrConflict (it is, but
// expectedVersion is stale) — the latter is what lets the Mutator's
// optimistic-retry loop actually fire for this operation.
func (r *Repo) Restore(ctx context.Context, tenantID, id uuid.UUID, by string, at time.Time, newVersion, expectedVersion int) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	row := querier.QueryRow(ctx, restoreSQL, newVersion, at, by, id, tenantID, expectedVersion)
	persisted, err := scanObject(row)
	if err != nil {
		if pe := mapError(err, "object", id); isNotFound(pe) {
			// The UPDATE matched nothing, but that's ambiguous: either the
			// row isn't currently deleted, or it is and another writer
			// raced our expectedVersion. Re-check deleted state alone to
			// tell the two apart, so a genuine version race can be
			// retried instead of rejected as a permanent state error.
			deleted, stateErr := r.isDeleted(ctx, tenantID, id)
			if stateErr != nil {
				return domain.Object{}, stateErr
			}
			if !deleted {
				return domain.Object{}, fmt.Errorf("object %s: not in a restorable state: %w", id, domain.ErrInvalidState)
			}
			return domain.Object{}, fmt.Errorf("object %s: version changed concurrently: %w", id, domain.ErrConflict)
		}
		return domain.Object{}, mapError(err, "object", id)
	}
	return persisted, nil
}

const isDeletedSQL = `SELECT deleted FROM _meta_objects WHERE id = $1 AND tenant_id = $2`

// isDeleted reports the current deleted flag for a row Restore just failed
// to update, to distinguish "not deleted" from "version raced while still
// deleted".
func (r *Repo) isDeleted(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var deleted bool
	err := querier.QueryRow(ctx, isDeletedSQL, id, tenantID).Scan(&deleted)
	if err != nil {
		return false, mapError(err, "object", id)
	}
	return deleted, nil
}

const changeStatusSQL = `
UPDATE _meta_objects
SET status = $1, version = $2, modified_at = $3, modified_by = $4
WHERE id = $5 AND tenant_id = $6 AND version = $7 AND deleted = FALSE
RETURNING ` + objectColumns

// ChangeStatus transitions status without touching data, bumping version.
func (r *Repo) ChangeStatus(ctx context.Context, tenantID, id uuid.UUID, newStatus domain.ObjectStatus, by string, at time.Time, newVersion, expectedVersion int) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	row := querier.QueryRow(ctx, changeStatusSQL, newStatus, newVersion, at, by, id, tenantID, expectedVersion)
	persisted, err := scanObject(row)
	if err != nil {
		if pe := mapError(err, "object", id); isNotFound(pe) {
			return domain.Object{}, fmt.Errorf("object %s: version changed concurrently: %w", id, domain.ErrConflict)
		}
		return domain.Object{}, mapError(err, "object", id)
	}
	return persisted, nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

const getByIDSQL = `SELECT ` + objectColumns + ` FROM _meta_objects WHERE id = $1 AND tenant_id = $2 AND deleted = FALSE`

// GetByID returns a live (non-deleted) object, tenant-scoped.
func (r *Repo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	row := querier.QueryRow(ctx, getByIDSQL, id, tenantID)
	obj, err := scanObject(row)
	if err != nil {
		return domain.Object{}, mapError(err, "object", id)
	}
	return obj, nil
}

const getByIDAnyStateSQL = `SELECT ` + objectColumns + ` FROM _meta_objects WHERE id = $1 AND tenant_id = $2`

// GetByIDAnyState returns the object regardless of its deleted flag, used by
// restore (which must see deleted rows) and soft_delete's precondition checks.
func (r *Repo) GetByIDAnyState(ctx context.Context, tenantID, id uuid.UUID) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	row := querier.QueryRow(ctx, getByIDAnyStateSQL, id, tenantID)
	obj, err := scanObject(row)
	if err != nil {
		return domain.Object{}, mapError(err, "object", id)
	}
	return obj, nil
}

const getByCodeSQL = `SELECT ` + objectColumns + ` FROM _meta_objects WHERE tenant_id = $1 AND type_code = $2 AND code = $3 AND deleted = FALSE`

// GetByCode resolves a live object by its human-readable (tenant, type, code) key.
func (r *Repo) GetByCode(ctx context.Context, tenantID uuid.UUID, typeCode, code string) (domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	row := querier.QueryRow(ctx, getByCodeSQL, tenantID, typeCode, code)
	obj, err := scanObject(row)
	if err != nil {
		return domain.Object{}, mapError(err, "object", uuid.Nil)
	}
	return obj, nil
}

const bulkGetSQL = `SELECT ` + objectColumns + ` FROM _meta_objects WHERE tenant_id = $1 AND id = ANY($2::uuid[]) AND deleted = FALSE`

// BulkGet returns every live object among ids belonging to tenantID. Missing
// or cross-tenant ids are silently omitted, not errored.
func (r *Repo) BulkGet(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]domain.Object, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, bulkGetSQL, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("bulk get objects: %w", err)
	}
	defer rows.Close()

	objs, err := scanObjects(rows)
	if err != nil {
		return nil, fmt.Errorf("bulk get objects: %w", err)
	}
	return objs, nil
}

// ListByType returns a page of live objects of the given type, optionally
// filtered by status, ordered by created_at ascending. A nil status lists
// ACTIVE and INACTIVE objects only; ARCHIVED objects appear only when
// requested explicitly.
func (r *Repo) ListByType(ctx context.Context, tenantID uuid.UUID, typeCode string, status *domain.ObjectStatus, page domain.Page) (domain.PageResult[domain.Object], error) {
	page = page.Clamp()

	where := sq.Eq{"tenant_id": tenantID, "type_code": typeCode, "deleted": false}
	if status != nil {
		where["status"] = *status
	} else {
		where["status"] = []string{domain.ObjectStatusActive.String(), domain.ObjectStatusInactive.String()}
	}

	return r.queryPage(ctx, where, "created_at ASC", page)
}

// SearchByName returns a page of live objects of the given type whose name
// contains term (case-insensitive), ordered by name ascending.
func (r *Repo) SearchByName(ctx context.Context, tenantID uuid.UUID, typeCode, term string, page domain.Page) (domain.PageResult[domain.Object], error) {
	page = page.Clamp()

	where := sq.And{
		sq.Eq{"tenant_id": tenantID, "type_code": typeCode, "deleted": false},
		sq.ILike{"name": "%" + term + "%"},
	}

	return r.queryPage(ctx, where, "name ASC", page)
}

// QueryByAttribute returns a page of live objects of the given type whose
// JSON data document contains {key: value} at the top level.
func (r *Repo) QueryByAttribute(ctx context.Context, tenantID uuid.UUID, typeCode, key string, value any, page domain.Page) (domain.PageResult[domain.Object], error) {
	page = page.Clamp()

	containment, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return domain.PageResult[domain.Object]{}, fmt.Errorf("query_by_attribute marshal containment: %w", err)
	}

	where := sq.And{
		sq.Eq{"tenant_id": tenantID, "type_code": typeCode, "deleted": false},
		sq.Expr("data @> ?::jsonb", string(containment)),
	}

	return r.queryPage(ctx, where, "created_at ASC", page)
}

// CountByType returns the count of live objects of the given type.
func (r *Repo) CountByType(ctx context.Context, tenantID uuid.UUID, typeCode string) (int, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	sql, args, err := psql.Select("count(*)").
		From("_meta_objects").
		Where(sq.Eq{"tenant_id": tenantID, "type_code": typeCode, "deleted": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("count_by_type build query: %w", err)
	}

	var count int
	if err := querier.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count_by_type: %w", err)
	}
	return count, nil
}

// queryPage runs a filtered, paginated select against _meta_objects and also
// fetches the total matching row count (ignoring pagination), per the Store
// contract in spec §4.1.
func (r *Repo) queryPage(ctx context.Context, where sq.Sqlizer, orderBy string, page domain.Page) (domain.PageResult[domain.Object], error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	countSQL, countArgs, err := psql.Select("count(*)").From("_meta_objects").Where(where).ToSql()
	if err != nil {
		return domain.PageResult[domain.Object]{}, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return domain.PageResult[domain.Object]{}, fmt.Errorf("count page: %w", err)
	}

	selectSQL, selectArgs, err := psql.Select(splitColumns(objectColumns)...).
		From("_meta_objects").
		Where(where).
		OrderBy(orderBy).
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return domain.PageResult[domain.Object]{}, fmt.Errorf("build select query: %w", err)
	}

	rows, err := querier.Query(ctx, selectSQL, selectArgs...)
	if err != nil {
		return domain.PageResult[domain.Object]{}, fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	items, err := scanObjects(rows)
	if err != nil {
		return domain.PageResult[domain.Object]{}, fmt.Errorf("scan page: %w", err)
	}

	return domain.PageResult[domain.Object]{Items: items, Total: total, Page: page.Number, Size: page.Size}, nil
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (domain.Object, error) {
	var (
		o              domain.Object
		data, metadata []byte
		status         string
	)

	err := row.Scan(
		&o.ID, &o.TenantID, &o.TypeCode, &o.Code, &o.Name, &data, &status, &o.Version,
		&o.Deleted, &o.DeletedAt, &o.DeletedBy, &o.CreatedAt, &o.CreatedBy, &o.ModifiedAt, &o.ModifiedBy, &metadata,
	)
	if err != nil {
		return domain.Object{}, err
	}

	o.Status = domain.ObjectStatus(status)
	if err := unmarshalJSONMap(data, &o.Data); err != nil {
		return domain.Object{}, fmt.Errorf("object %s unmarshal data: %w", o.ID, err)
	}
	if err := unmarshalJSONMap(metadata, &o.Metadata); err != nil {
		return domain.Object{}, fmt.Errorf("object %s unmarshal metadata: %w", o.ID, err)
	}
	return o, nil
}

func scanObjects(rows pgx.Rows) ([]domain.Object, error) {
	var objs []domain.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if objs == nil {
		objs = []domain.Object{}
	}
	return objs, nil
}

func unmarshalJSONMap(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*dst = m
	return nil
}

func splitColumns(cols string) []string {
	parts := strings.Split(cols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, domain.ErrNotFound)
}
