package synckit

import (
	"context"
	"fmt"
	"os"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/synckit/codec"
)

// State is the content of several collections keyed by collection name.
type State map[string][]Record

// Count returns the number of records across every collection.
func (s State) Count() int {
	n := 0
	for _, records := range s {
		n += len(records)
	}
	return n
}

// ExportState reads every listed collection from the store.
func ExportState(ctx context.Context, store ReplicaStore, collections []string) (State, error) {
	st := make(State, len(collections))
	for _, c := range collections {
		snap, err := store.ReadAll(ctx, c)
		if err != nil {
			return nil, storeError(err, syncErrors.OpStateExport, c)
		}
		st[c] = snap.Records()
	}
	return st, nil
}

// ImportState replaces each listed collection that is present in st.
// Collections in st that are not listed are ignored; listed collections
// absent from st are left untouched. Every collection is checked before
// anything is written.
func ImportState(ctx context.Context, store ReplicaStore, collections []string, st State) error {
	for _, c := range collections {
		records, ok := st[c]
		if !ok {
			continue
		}
		if _, err := NewSnapshot(records); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpStateImport, fmt.Errorf("collection %s: %w", c, err))
		}
	}
	for _, c := range collections {
		records, ok := st[c]
		if !ok {
			continue
		}
		if err := store.ReplaceAll(ctx, c, records); err != nil {
			return storeError(err, syncErrors.OpStateImport, c)
		}
	}
	return nil
}

// WriteStateFile writes st to path in the format chosen by its extension.
func WriteStateFile(path string, st State) error {
	c, err := codec.ForPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := c.Encode(f, st); err != nil {
		f.Close()
		return fmt.Errorf("encode %s archive: %w", c.Kind(), err)
	}
	return f.Close()
}

// ReadStateFile reads an archive written by WriteStateFile.
func ReadStateFile(path string) (State, error) {
	c, err := codec.ForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var st State
	if err := c.Decode(f, &st); err != nil {
		return nil, fmt.Errorf("decode %s archive: %w", c.Kind(), err)
	}
	return st, nil
}
