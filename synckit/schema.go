package synckit

import (
	"fmt"
)

// Collection names known to the remote store.
const (
	CollectionUsers      = "users"
	CollectionLocations  = "locations"
	CollectionObjects    = "objects"
	CollectionActivities = "activities"
	CollectionNotes      = "notes"
)

// Schema describes the fields of one collection. Records may carry fields
// that are not listed; only enum fields are checked.
type Schema struct {
	Name   string
	Fields []string
	Enums  map[string][]string
}

var catalogue = []Schema{
	{
		Name:   CollectionUsers,
		Fields: []string{"id", "name", "role", "email", "updated_at"},
		Enums:  map[string][]string{"role": {"Operatore", "Coordinatore", "Altro"}},
	},
	{
		Name:   CollectionLocations,
		Fields: []string{"id", "name", "address", "notes", "created_at", "updated_at"},
	},
	{
		Name: CollectionObjects,
		Fields: []string{"id", "name", "description", "status", "kind", "location_id",
			"container_id", "detected_at", "updated_at"},
		Enums: map[string][]string{
			"status": {"da_rimuovere", "smaltito", "venduto", "in_attesa", "completato"},
			"kind":   {"oggetto", "contenitore"},
		},
	},
	{
		Name:   CollectionActivities,
		Fields: []string{"id", "name", "description", "updated_at"},
	},
	{
		Name:   CollectionNotes,
		Fields: []string{"id", "text", "object_id", "activity_id", "location_id", "author_id", "date", "updated_at"},
	},
}

// DefaultCollections returns every known collection in reconciliation order.
func DefaultCollections() []string {
	out := make([]string, len(catalogue))
	for i, s := range catalogue {
		out[i] = s.Name
	}
	return out
}

// LookupSchema returns the schema of a known collection.
func LookupSchema(name string) (Schema, bool) {
	for _, s := range catalogue {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// ValidateCollections rejects an empty list, duplicates and unknown names.
func ValidateCollections(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := LookupSchema(n); !ok {
			return fmt.Errorf("unknown collection %q", n)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("collection %q listed twice", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// Check validates a record against the schema.
func (s Schema) Check(r Record) error {
	if r.ID == "" {
		return ErrMissingID
	}
	for field, allowed := range s.Enums {
		v, ok := r.Fields[field]
		if !ok || v == nil {
			continue
		}
		str, isString := v.(string)
		if !isString {
			return fmt.Errorf("%s %s: field %s must be a string", s.Name, r.ID, field)
		}
		if !contains(allowed, str) {
			return fmt.Errorf("%s %s: field %s has invalid value %q", s.Name, r.ID, field, str)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
