package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies the mutation recorded by an ObjectVersion row.
type ChangeType string

const (
	ChangeTypeCreate       ChangeType = "CREATE"
	ChangeTypeUpdate       ChangeType = "UPDATE"
	ChangeTypeDelete       ChangeType = "DELETE"
	ChangeTypeRestore      ChangeType = "RESTORE"
	ChangeTypeStatusChange ChangeType = "STATUS_CHANGE"
)

func (c ChangeType) String() string { return string(c) }

func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeTypeCreate, ChangeTypeUpdate, ChangeTypeDelete, ChangeTypeRestore, ChangeTypeStatusChange:
		return true
	}
	return false
}

// ObjectVersion is an immutable, append-only snapshot of one mutation.
// version_number matches the object's Version after the change; rows are
// never updated or deleted.
type ObjectVersion struct {
	ID            uuid.UUID
	ObjectID      uuid.UUID
	VersionNumber int
	ChangeType    ChangeType
	PreviousData  map[string]any // nil for CREATE
	CurrentData   map[string]any // nil for DELETE
	Diff          *Diff
	ChangedBy     string
	IP            string
	UserAgent     string
	ChangeReason  string
	CreatedAt     time.Time
}

// IsInitial reports whether this is an object's first version row.
func (v ObjectVersion) IsInitial() bool { return v.VersionNumber == 1 }
