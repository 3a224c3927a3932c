// Package domain holds the entities, enums, and sentinel errors shared by
// every layer of the object store: persistence, caching, versioning,
// mutation, dispatch, and read.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ObjectStatus is the lifecycle state of an Object.
type ObjectStatus string

const (
	ObjectStatusActive   ObjectStatus = "ACTIVE"
	ObjectStatusInactive ObjectStatus = "INACTIVE"
	ObjectStatusArchived ObjectStatus = "ARCHIVED"
	ObjectStatusDeleted  ObjectStatus = "DELETED"
)

func (s ObjectStatus) String() string { return string(s) }

func (s ObjectStatus) IsValid() bool {
	switch s {
	case ObjectStatusActive, ObjectStatusInactive, ObjectStatusArchived, ObjectStatusDeleted:
		return true
	}
	return false
}

// Object is the live record for a tenant-scoped business entity. The
// (tenant, type_code, code) triple is unique among non-deleted rows.
type Object struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	TypeCode   string
	Code       string
	Name       string
	Data       map[string]any
	Status     ObjectStatus
	Version    int
	Deleted    bool
	DeletedAt  *time.Time
	DeletedBy  *string
	CreatedAt  time.Time
	CreatedBy  string
	ModifiedAt time.Time
	ModifiedBy string
	Metadata   map[string]any
}

// Key identifies an object within a tenant by its human-readable code.
type Key struct {
	TenantID uuid.UUID
	TypeCode string
	Code     string
}
