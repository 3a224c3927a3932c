// Package differ computes the structural top-level difference between two
// JSON documents, used by internal/versioner to populate ObjectVersion.Diff.
package differ

import (
	"reflect"
	"sort"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Diff walks the top-level fields of old and new and returns the set of
// added, modified, and removed keys. Field ordering in the inputs is
// irrelevant. The returned maps are unordered by Go's nature; callers that
// need a deterministic key order use SortedKeys (encoding/json also writes
// map keys in sorted order).
//
// Returns nil when old and new have no differing top-level fields.
func Diff(oldDoc, newDoc map[string]any) *domain.Diff {
	added := make(map[string]any)
	modified := make(map[string]domain.ModifiedField)
	removed := make(map[string]any)

	for k, newVal := range newDoc {
		oldVal, existed := oldDoc[k]
		if !existed {
			added[k] = newVal
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			modified[k] = domain.ModifiedField{Old: oldVal, New: newVal}
		}
	}

	for k, oldVal := range oldDoc {
		if _, stillPresent := newDoc[k]; !stillPresent {
			removed[k] = oldVal
		}
	}

	if len(added) == 0 && len(modified) == 0 && len(removed) == 0 {
		return nil
	}

	d := &domain.Diff{}
	if len(added) > 0 {
		d.Added = added
	}
	if len(modified) > 0 {
		d.Modified = modified
	}
	if len(removed) > 0 {
		d.Removed = removed
	}
	return d
}

// SortedKeys returns the keys of m in sorted order. Exposed for callers that
// need deterministic iteration over a Diff's maps (e.g. rendering).
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
