package domain

import "github.com/google/uuid"

// ActorContext identifies who is performing a mutation and from where.
// Threaded explicitly through every Mutator call — no ambient/thread-local
// lookup, per the "no framework auto-wiring" design note.
type ActorContext struct {
	TenantID  uuid.UUID
	UserID    string
	IP        string
	UserAgent string
}
