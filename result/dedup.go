package result

import (
	"sort"
)

// Conflict describes more than one record stored under one key.
type Conflict struct {
	Key     Key
	Kept    *Record
	Dropped []*Record
}

// DroppedIDs returns the ids of the losing records.
func (c Conflict) DroppedIDs() []string {
	ids := make([]string, len(c.Dropped))
	for i, r := range c.Dropped {
		ids[i] = r.ID
	}
	return ids
}

// Latest picks the record to keep among records sharing a key: the one
// entered last, then the smallest id. The others are returned as dropped.
func Latest(records []*Record) (kept *Record, dropped []*Record) {
	if len(records) == 0 {
		return nil, nil
	}
	sorted := append([]*Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].EnteredAt.Equal(sorted[j].EnteredAt) {
			return sorted[i].EnteredAt.After(sorted[j].EnteredAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0], sorted[1:]
}

// Dedup reduces records to one per key. Records come back ordered by key;
// every key that held duplicates is reported as a conflict.
func Dedup(records []*Record) (kept []*Record, conflicts []Conflict) {
	groups := make(map[Key][]*Record)
	keys := make([]Key, 0)
	for _, r := range records {
		k := r.Key()
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	kept = make([]*Record, 0, len(keys))
	for _, k := range keys {
		winner, losers := Latest(groups[k])
		kept = append(kept, winner)
		if len(losers) > 0 {
			conflicts = append(conflicts, Conflict{Key: k, Kept: winner, Dropped: losers})
		}
	}
	return kept, conflicts
}
