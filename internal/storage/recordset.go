package storage

import (
	"github.com/petstay/hotel-scraper/internal/models"
)

// RecordSet is the accumulated, identity-keyed collection of records for one
// brand. Insertion order is preserved so JSON/CSV output stays stable across
// rewrites. Merging is conservative fill-only: a later scrape never clobbers a
// field an earlier scrape already captured.
type RecordSet struct {
	keys  []models.Key
	byKey map[models.Key]models.Record
}

// MergeStats counts what a merge actually changed.
type MergeStats struct {
	Added  int
	Merged int
	Filled int
}

func NewRecordSet() *RecordSet {
	return &RecordSet{byKey: make(map[models.Key]models.Record)}
}

func (s *RecordSet) Len() int {
	return len(s.keys)
}

func (s *RecordSet) Get(key models.Key) (models.Record, bool) {
	r, ok := s.byKey[key]
	return r, ok
}

func (s *RecordSet) Has(key models.Key) bool {
	_, ok := s.byKey[key]
	return ok
}

// Records returns the set in first-seen order.
func (s *RecordSet) Records() []models.Record {
	out := make([]models.Record, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.byKey[k])
	}
	return out
}

// Merge folds incoming records into the set. New identities insert as-is;
// known identities fill only fields that were previously empty (nil, "", or
// the "null" placeholder). Duplicate identities within one batch collapse in
// scan order under the same rule.
func (s *RecordSet) Merge(incoming ...models.Record) MergeStats {
	var stats MergeStats
	for _, rec := range incoming {
		if rec == nil {
			continue
		}
		key := rec.Identity()
		existing, ok := s.byKey[key]
		if !ok {
			s.byKey[key] = rec
			s.keys = append(s.keys, key)
			stats.Added++
			continue
		}
		filled := existing.Fill(rec)
		stats.Merged++
		stats.Filled += filled
	}
	return stats
}
