// Package version implements the ObjectVersion repository using PostgreSQL.
// Rows are append-only: there is no Update or Delete here by design.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Repo provides ObjectVersion persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new version repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const versionColumns = `id, object_id, version_number, change_type, previous_data, current_data,
	diff, changed_by, ip, user_agent, change_reason, created_at`

const appendSQL = `
INSERT INTO _meta_object_versions (id, object_id, version_number, change_type, previous_data,
	current_data, diff, changed_by, ip, user_agent, change_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + versionColumns

// Append persists an immutable version row. Satisfies internal/versioner.Store.
func (r *Repo) Append(ctx context.Context, v domain.ObjectVersion) (domain.ObjectVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	previous, err := marshalOptionalMap(v.PreviousData)
	if err != nil {
		return domain.ObjectVersion{}, fmt.Errorf("object_version %s marshal previous_data: %w", v.ID, err)
	}
	current, err := marshalOptionalMap(v.CurrentData)
	if err != nil {
		return domain.ObjectVersion{}, fmt.Errorf("object_version %s marshal current_data: %w", v.ID, err)
	}
	diff, err := marshalOptionalDiff(v.Diff)
	if err != nil {
		return domain.ObjectVersion{}, fmt.Errorf("object_version %s marshal diff: %w", v.ID, err)
	}

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}

	row := querier.QueryRow(ctx, appendSQL,
		v.ID, v.ObjectID, v.VersionNumber, string(v.ChangeType), previous, current, diff,
		v.ChangedBy, v.IP, v.UserAgent, v.ChangeReason, v.CreatedAt,
	)

	persisted, err := scanVersion(row)
	if err != nil {
		return domain.ObjectVersion{}, mapError(err, "object_version", v.ID)
	}
	return persisted, nil
}

const getByObjectSQL = `SELECT ` + versionColumns + ` FROM _meta_object_versions WHERE object_id = $1 ORDER BY version_number DESC LIMIT $2 OFFSET $3`

const countByObjectSQL = `SELECT count(*) FROM _meta_object_versions WHERE object_id = $1`

// History returns a page of version rows for an object, newest first.
func (r *Repo) History(ctx context.Context, objectID uuid.UUID, page domain.Page) (domain.PageResult[domain.ObjectVersion], error) {
	page = page.Clamp()
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var total int
	if err := querier.QueryRow(ctx, countByObjectSQL, objectID).Scan(&total); err != nil {
		return domain.PageResult[domain.ObjectVersion]{}, fmt.Errorf("count object_versions: %w", err)
	}

	rows, err := querier.Query(ctx, getByObjectSQL, objectID, page.Size, page.Offset())
	if err != nil {
		return domain.PageResult[domain.ObjectVersion]{}, fmt.Errorf("get object_versions: %w", err)
	}
	defer rows.Close()

	items, err := scanVersions(rows)
	if err != nil {
		return domain.PageResult[domain.ObjectVersion]{}, fmt.Errorf("scan object_versions: %w", err)
	}

	return domain.PageResult[domain.ObjectVersion]{Items: items, Total: total, Page: page.Number, Size: page.Size}, nil
}

const getByObjectAndNumberSQL = `SELECT ` + versionColumns + ` FROM _meta_object_versions WHERE object_id = $1 AND version_number = $2`

// GetByNumber returns a single version row.
func (r *Repo) GetByNumber(ctx context.Context, objectID uuid.UUID, versionNumber int) (domain.ObjectVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	row := querier.QueryRow(ctx, getByObjectAndNumberSQL, objectID, versionNumber)
	v, err := scanVersion(row)
	if err != nil {
		return domain.ObjectVersion{}, mapError(err, "object_version", objectID)
	}
	return v, nil
}

const findVersionAtSQL = `SELECT ` + versionColumns + ` FROM _meta_object_versions
	WHERE object_id = $1 AND created_at <= $2
	ORDER BY created_at DESC LIMIT 1`

// FindVersionAt returns the version row in effect at instant at: the one
// with the largest created_at not after at. Used for time-travel reads —
// "what did this object look like at time T" — rather than for navigating
// by version_number.
func (r *Repo) FindVersionAt(ctx context.Context, objectID uuid.UUID, at time.Time) (domain.ObjectVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	row := querier.QueryRow(ctx, findVersionAtSQL, objectID, at)
	v, err := scanVersion(row)
	if err != nil {
		return domain.ObjectVersion{}, mapError(err, "object_version", objectID)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (domain.ObjectVersion, error) {
	var (
		v                             domain.ObjectVersion
		changeType                    string
		previousRaw, currentRaw, diff []byte
	)

	err := row.Scan(
		&v.ID, &v.ObjectID, &v.VersionNumber, &changeType, &previousRaw, &currentRaw,
		&diff, &v.ChangedBy, &v.IP, &v.UserAgent, &v.ChangeReason, &v.CreatedAt,
	)
	if err != nil {
		return domain.ObjectVersion{}, err
	}

	v.ChangeType = domain.ChangeType(changeType)

	if previousRaw != nil {
		m := make(map[string]any)
		if err := json.Unmarshal(previousRaw, &m); err != nil {
			return domain.ObjectVersion{}, fmt.Errorf("object_version %s unmarshal previous_data: %w", v.ID, err)
		}
		v.PreviousData = m
	}
	if currentRaw != nil {
		m := make(map[string]any)
		if err := json.Unmarshal(currentRaw, &m); err != nil {
			return domain.ObjectVersion{}, fmt.Errorf("object_version %s unmarshal current_data: %w", v.ID, err)
		}
		v.CurrentData = m
	}
	if diff != nil {
		d := &domain.Diff{}
		if err := json.Unmarshal(diff, d); err != nil {
			return domain.ObjectVersion{}, fmt.Errorf("object_version %s unmarshal diff: %w", v.ID, err)
		}
		v.Diff = d
	}

	return v, nil
}

func scanVersions(rows pgx.Rows) ([]domain.ObjectVersion, error) {
	var versions []domain.ObjectVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []domain.ObjectVersion{}
	}
	return versions, nil
}

func marshalOptionalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func marshalOptionalDiff(d *domain.Diff) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}
