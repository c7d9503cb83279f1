package synckit

// Classification is the relationship of one record id across the local and
// remote snapshots of a collection.
type Classification int

const (
	// Unchanged: present on both sides with equal updated_at.
	Unchanged Classification = iota
	// Conflict: present on both sides with differing updated_at.
	Conflict
	// RemoteOnly: present only in the remote snapshot.
	RemoteOnly
	// LocalOnly: present only in the local snapshot.
	LocalOnly
)

func (c Classification) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Conflict:
		return "conflict"
	case RemoteOnly:
		return "remote_only"
	case LocalOnly:
		return "local_only"
	}
	return "unknown"
}

// Classified is the classification of one id together with the versions
// seen on each side. Local or Remote is nil when the record is absent there.
type Classified struct {
	ID     string
	Class  Classification
	Local  *Record
	Remote *Record
}

// Detect classifies every id from the union of both snapshots. The result is
// ordered by ascending id; inputs are not modified.
func Detect(local, remote Snapshot) []Classified {
	union := make(Snapshot, len(local)+len(remote))
	for id, r := range local {
		union[id] = r
	}
	for id, r := range remote {
		union[id] = r
	}

	out := make([]Classified, 0, len(union))
	for _, id := range union.IDs() {
		l, inLocal := local[id]
		r, inRemote := remote[id]

		c := Classified{ID: id}
		if inLocal {
			lc := l
			c.Local = &lc
		}
		if inRemote {
			rc := r
			c.Remote = &rc
		}

		switch {
		case inLocal && inRemote:
			if l.UpdatedAt == r.UpdatedAt {
				c.Class = Unchanged
			} else {
				c.Class = Conflict
			}
		case inRemote:
			c.Class = RemoteOnly
		default:
			c.Class = LocalOnly
		}
		out = append(out, c)
	}
	return out
}
