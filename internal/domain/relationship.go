package domain

import (
	"time"

	"github.com/google/uuid"
)

// Cardinality is the declared multiplicity of a relationship. Not enforced
// by the store.
type Cardinality string

const (
	CardinalityOneToOne   Cardinality = "1:1"
	CardinalityOneToMany  Cardinality = "1:N"
	CardinalityManyToMany Cardinality = "N:N"
)

func (c Cardinality) String() string { return string(c) }

func (c Cardinality) IsValid() bool {
	switch c {
	case CardinalityOneToOne, CardinalityOneToMany, CardinalityManyToMany:
		return true
	}
	return false
}

// ObjectRelationship is a directed, typed edge between two objects.
// (source_id, target_id, rel_type) is unique; deleting either endpoint
// cascades to the edge.
type ObjectRelationship struct {
	ID            uuid.UUID
	SourceID      uuid.UUID
	TargetID      uuid.UUID
	RelType       string
	Cardinality   Cardinality
	Bidirectional bool
	InverseType   string
	Strength      float64
	DisplayOrder  int
	Metadata      map[string]any
	Active        bool
	CreatedAt     time.Time
	CreatedBy     string
}

// InvolvesObject reports whether the edge touches the given object.
func (r ObjectRelationship) InvolvesObject(id uuid.UUID) bool {
	return r.SourceID == id || r.TargetID == id
}

// OtherEnd returns the endpoint of the edge that isn't id. The caller must
// ensure id is one of the two endpoints.
func (r ObjectRelationship) OtherEnd(id uuid.UUID) uuid.UUID {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}
