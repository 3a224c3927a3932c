// Package relationship implements the ObjectRelationship repository using
// PostgreSQL.
package relationship

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Repo provides ObjectRelationship persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new relationship repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const relColumns = `id, source_id, target_id, rel_type, cardinality, bidirectional,
	inverse_type, strength, display_order, metadata, active, created_at, created_by`

const insertSQL = `
INSERT INTO _meta_object_relationships (id, source_id, target_id, rel_type, cardinality,
	bidirectional, inverse_type, strength, display_order, metadata, active, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $12)
RETURNING ` + relColumns

// Create inserts a new active relationship edge. Both endpoints must already
// exist (enforced by the FK constraints); a duplicate (source, target,
// rel_type) triple results in domain.ErrConflict.
func (r *Repo) Create(ctx context.Context, rel domain.ObjectRelationship) (domain.ObjectRelationship, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	metadata, err := json.Marshal(rel.Metadata)
	if err != nil {
		return domain.ObjectRelationship{}, fmt.Errorf("object_relationship %s marshal metadata: %w", rel.ID, err)
	}

	row := querier.QueryRow(ctx, insertSQL,
		rel.ID, rel.SourceID, rel.TargetID, rel.RelType, string(rel.Cardinality),
		rel.Bidirectional, rel.InverseType, rel.Strength, rel.DisplayOrder, metadata,
		rel.CreatedAt, rel.CreatedBy,
	)

	persisted, err := scanRelationship(row)
	if err != nil {
		return domain.ObjectRelationship{}, mapError(err, "object_relationship", rel.ID)
	}
	return persisted, nil
}

const deactivateSQL = `UPDATE _meta_object_relationships SET active = FALSE WHERE id = $1`

// Deactivate soft-removes an edge without deleting the row (the cascade
// described in spec §3 happens at the database FK level when an endpoint
// object is hard-deleted; Deactivate is the mutator-level equivalent of
// removing a relationship while keeping its history).
func (r *Repo) Deactivate(ctx context.Context, id uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, deactivateSQL, id)
	if err != nil {
		return mapError(err, "object_relationship", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("object_relationship %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

const listBySourceSQL = `SELECT ` + relColumns + ` FROM _meta_object_relationships WHERE source_id = $1 AND active = TRUE ORDER BY display_order ASC, created_at ASC`

// ListBySource returns active outgoing edges from an object.
func (r *Repo) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]domain.ObjectRelationship, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, listBySourceSQL, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list relationships by source: %w", err)
	}
	defer rows.Close()

	return scanRelationships(rows)
}

const listByTargetSQL = `SELECT ` + relColumns + ` FROM _meta_object_relationships WHERE target_id = $1 AND active = TRUE ORDER BY display_order ASC, created_at ASC`

// ListByTarget returns active incoming edges to an object.
func (r *Repo) ListByTarget(ctx context.Context, targetID uuid.UUID) ([]domain.ObjectRelationship, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, listByTargetSQL, targetID)
	if err != nil {
		return nil, fmt.Errorf("list relationships by target: %w", err)
	}
	defer rows.Close()

	return scanRelationships(rows)
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(row rowScanner) (domain.ObjectRelationship, error) {
	var (
		rel         domain.ObjectRelationship
		cardinality string
		metadata    []byte
	)

	err := row.Scan(
		&rel.ID, &rel.SourceID, &rel.TargetID, &rel.RelType, &cardinality, &rel.Bidirectional,
		&rel.InverseType, &rel.Strength, &rel.DisplayOrder, &metadata, &rel.Active, &rel.CreatedAt, &rel.CreatedBy,
	)
	if err != nil {
		return domain.ObjectRelationship{}, err
	}

	rel.Cardinality = domain.Cardinality(cardinality)
	if len(metadata) > 0 {
		m := make(map[string]any)
		if err := json.Unmarshal(metadata, &m); err != nil {
			return domain.ObjectRelationship{}, fmt.Errorf("object_relationship %s unmarshal metadata: %w", rel.ID, err)
		}
		rel.Metadata = m
	}
	return rel, nil
}

func scanRelationships(rows pgx.Rows) ([]domain.ObjectRelationship, error) {
	var rels []domain.ObjectRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if rels == nil {
		rels = []domain.ObjectRelationship{}
	}
	return rels, nil
}
