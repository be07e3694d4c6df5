package match

import (
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/normalize"
)

// Index buckets a registry snapshot by every tier key
type Index struct {
	rows    []location.Record
	buckets map[normalize.KeyKind]map[string][]int
}

// NewIndex builds an index over registry. The slice is not copied and must
// not be modified while the index is in use.
func NewIndex(registry []location.Record) *Index {
	idx := &Index{
		rows:    registry,
		buckets: make(map[normalize.KeyKind]map[string][]int, len(DefaultTiers)),
	}
	for _, tier := range DefaultTiers {
		idx.buckets[tier] = make(map[string][]int)
	}

	for i, row := range registry {
		for _, tier := range DefaultTiers {
			if key, ok := normalize.RecordKey(tier, row); ok {
				idx.buckets[tier][key] = append(idx.buckets[tier][key], i)
			}
		}
	}
	return idx
}

// Len returns the number of indexed rows
func (idx *Index) Len() int {
	return len(idx.rows)
}

// lookup returns the rows sharing key on tier, in registry order, skipping
// rows whose ID equals exclude
func (idx *Index) lookup(tier normalize.KeyKind, key, exclude string) []location.Record {
	positions := idx.buckets[tier][key]
	out := make([]location.Record, 0, len(positions))
	for _, i := range positions {
		if exclude != "" && idx.rows[i].ID == exclude {
			continue
		}
		out = append(out, idx.rows[i])
	}
	return out
}
