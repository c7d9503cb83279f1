// Package synckit implements the reconciliation engine: it compares local and
// remote snapshots of each collection, resolves conflicts through a pluggable
// strategy and re-uploads the reconciled replica.
package synckit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Reserved field names of the flat JSON form of a Record.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updated_at"
)

// ErrMissingID is returned when a record has no identifier.
var ErrMissingID = errors.New("record has no id")

// Record is one addressable item of a collection. UpdatedAt is an opaque
// ISO-8601 string compared by equality only.
type Record struct {
	ID        string
	UpdatedAt string
	Fields    map[string]any
}

// Clone returns a copy whose Fields map can be modified independently.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, UpdatedAt: r.UpdatedAt}
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Get returns a field value. id and updated_at are served from the record
// itself.
func (r Record) Get(field string) (any, bool) {
	switch field {
	case FieldID:
		return r.ID, r.ID != ""
	case FieldUpdatedAt:
		return r.UpdatedAt, r.UpdatedAt != ""
	}
	v, ok := r.Fields[field]
	return v, ok
}

// MarshalJSON writes the flat object form. Ids that are JSON number literals
// (as decoded from a numeric id) are written back as numbers in their
// original form, everything else as strings.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.ID == "" {
		return nil, ErrMissingID
	}
	obj := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		obj[k] = v
	}
	if numericID(r.ID) {
		obj[FieldID] = json.Number(r.ID)
	} else {
		obj[FieldID] = r.ID
	}
	if r.UpdatedAt != "" {
		obj[FieldUpdatedAt] = r.UpdatedAt
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads the flat object form. Numbers are kept as json.Number
// so that a record survives a decode/encode cycle unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("record must be a JSON object")
	}

	id, err := idString(obj[FieldID])
	if err != nil {
		return err
	}
	delete(obj, FieldID)

	var updatedAt string
	switch v := obj[FieldUpdatedAt].(type) {
	case nil:
	case string:
		updatedAt = v
	default:
		return fmt.Errorf("record %s: updated_at must be a string, got %T", id, v)
	}
	delete(obj, FieldUpdatedAt)

	r.ID = id
	r.UpdatedAt = updatedAt
	r.Fields = obj
	return nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", ErrMissingID
	case string:
		if id == "" {
			return "", ErrMissingID
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("record id must be a string or number, got %T", v)
	}
}

// numericID reports whether id is a JSON number literal such as 12, 5.0,
// 1e3 or an integer beyond int64.
func numericID(id string) bool {
	if id == "" {
		return false
	}
	if c := id[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	if c := id[len(id)-1]; c < '0' || c > '9' {
		return false
	}
	return json.Valid([]byte(id))
}

func integerID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != id {
		return 0, false
	}
	return n, true
}

// CompareIDs orders record identifiers: integers numerically and before
// any non-integer id, the rest byte-wise.
func CompareIDs(a, b string) int {
	na, aok := integerID(a)
	nb, bok := integerID(b)
	switch {
	case aok && bok:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortRecords sorts records by ascending id in place.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return CompareIDs(records[i].ID, records[j].ID) < 0 })
}
