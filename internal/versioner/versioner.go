// Package versioner appends ObjectVersion rows for every mutation the
// Mutator performs. It computes the structural diff for UPDATE changes via
// internal/differ and always hands the Store back a row carrying the
// version_number the caller needs to report.
package versioner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/myenglish-backend/internal/differ"
	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Store is the persistence port the Versioner writes through. Satisfied by
// internal/adapter/postgres/version.Repo; defined here, at the point of use,
// rather than in a shared ports package.
type Store interface {
	Append(ctx context.Context, v domain.ObjectVersion) (domain.ObjectVersion, error)
}

// Versioner appends object version rows.
type Versioner struct {
	store Store
}

// New creates a Versioner backed by store.
func New(store Store) *Versioner {
	return &Versioner{store: store}
}

// Append builds and persists the ObjectVersion row for one mutation. version
// is the object's version number AFTER the change (i.e. the value the caller
// just wrote). previousData/currentData follow domain.ObjectVersion's
// convention: previousData is nil for CREATE, currentData is nil for DELETE.
// Diff is computed only for UPDATE; every other change type leaves Diff nil
// since the full before/after snapshot already tells the story. now is the
// caller's single timestamp for the whole mutation, so the version row's
// created_at lines up with the object's modified_at and the outbox entry's
// created_at rather than drifting a few microseconds apart.
func (v *Versioner) Append(
	ctx context.Context,
	objectID uuid.UUID,
	version int,
	changeType domain.ChangeType,
	previousData, currentData map[string]any,
	actor domain.ActorContext,
	reason string,
	now time.Time,
) (domain.ObjectVersion, error) {
	if !changeType.IsValid() {
		return domain.ObjectVersion{}, fmt.Errorf("versioner: invalid change type %q", changeType)
	}

	row := domain.ObjectVersion{
		ID:            uuid.New(),
		ObjectID:      objectID,
		VersionNumber: version,
		ChangeType:    changeType,
		PreviousData:  previousData,
		CurrentData:   currentData,
		ChangedBy:     actor.UserID,
		IP:            actor.IP,
		UserAgent:     actor.UserAgent,
		ChangeReason:  reason,
		CreatedAt:     now,
	}

	if changeType == domain.ChangeTypeUpdate && previousData != nil && currentData != nil {
		row.Diff = differ.Diff(previousData, currentData)
	}

	persisted, err := v.store.Append(ctx, row)
	if err != nil {
		return domain.ObjectVersion{}, fmt.Errorf("versioner append: %w", err)
	}
	return persisted, nil
}
