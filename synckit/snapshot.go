package synckit

import (
	"fmt"
	"sort"
)

// Snapshot is the full content of one collection on one side at one instant,
// keyed by record id.
type Snapshot map[string]Record

// NewSnapshot builds a Snapshot, rejecting empty and duplicate ids.
func NewSnapshot(records []Record) (Snapshot, error) {
	s := make(Snapshot, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, ErrMissingID
		}
		if _, dup := s[r.ID]; dup {
			return nil, fmt.Errorf("duplicate record id %q", r.ID)
		}
		s[r.ID] = r
	}
	return s, nil
}

// IDs returns the record ids in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })
	return ids
}

// Records returns the records ordered by ascending id.
func (s Snapshot) Records() []Record {
	out := make([]Record, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, s[id])
	}
	return out
}
