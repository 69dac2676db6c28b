package sync

import (
	"fmt"

	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// Enumerate normalizes a portal's entity listing: duplicates collapse to
// the first occurrence and source order is preserved. The cached list from
// the previous run is the yardstick for anomaly detection: portals have
// shipped UI regressions that silently dropped stores from the switcher,
// and a sync that quietly covers half the fleet is worse than a loud one.
func Enumerate(listed, cached []session.Entity) (entities []session.Entity, anomaly string) {
	seen := make(map[string]bool, len(listed))
	for _, e := range listed {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		entities = append(entities, e)
	}

	if len(cached) > 0 && len(entities)*2 < len(cached) {
		anomaly = fmt.Sprintf("entity listing shrank from %d to %d, portal may be hiding stores",
			len(cached), len(entities))
	}
	return entities, anomaly
}

// FilterEntities keeps only the requested IDs, in listing order. Unknown
// requested IDs are returned so the caller can report them instead of
// silently syncing nothing.
func FilterEntities(entities []session.Entity, only []string) (kept []session.Entity, unknown []string) {
	if len(only) == 0 {
		return entities, nil
	}
	want := make(map[string]bool, len(only))
	for _, id := range only {
		want[id] = true
	}
	for _, e := range entities {
		if want[e.ID] {
			kept = append(kept, e)
			delete(want, e.ID)
		}
	}
	for _, id := range only {
		if want[id] {
			unknown = append(unknown, id)
		}
	}
	return kept, unknown
}
