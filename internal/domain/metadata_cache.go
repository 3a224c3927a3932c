package domain

import "time"

// MetadataCache is a type-level descriptor fetched from an external
// metadata authority and cached to enrich mutation validation. A row is
// valid for use when it isn't marked stale and its TTL hasn't elapsed.
type MetadataCache struct {
	TypeCode       string
	Descriptor     map[string]any
	SyncedAt       time.Time
	Stale          bool
	TTLMinutes     int
	UsageCount     int64
	LastAccessedAt time.Time
}

// ValidForUse reports whether the cached descriptor may still be trusted
// at the given instant.
func (m MetadataCache) ValidForUse(now time.Time) bool {
	if m.Stale {
		return false
	}
	return now.Before(m.SyncedAt.Add(time.Duration(m.TTLMinutes) * time.Minute))
}
