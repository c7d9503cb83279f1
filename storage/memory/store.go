// Package memory provides a map-backed ReplicaStore for tests and
// ephemeral runs. Nothing survives Close.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/synckit"
)

var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrRecordExists = errors.New("record already exists")
)

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]synckit.Record
	closed      bool
}

var _ synckit.ReplicaStore = (*Store)(nil)

func New() *Store {
	return &Store{collections: make(map[string]map[string]synckit.Record)}
}

func (s *Store) ReadAll(ctx context.Context, collection string) (synckit.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection, ErrStoreClosed)
	}
	snap := make(synckit.Snapshot, len(s.collections[collection]))
	for id, r := range s.collections[collection] {
		snap[id] = r.Clone()
	}
	return snap, nil
}

func (s *Store) ReplaceAll(ctx context.Context, collection string, records []synckit.Record) error {
	if err := ctx.Err(); err != nil {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
	}
	next := make(map[string]synckit.Record, len(records))
	for _, r := range records {
		if r.ID == "" {
			return syncErrors.NewStoreError(syncErrors.OpReplace, collection, synckit.ErrMissingID)
		}
		if _, dup := next[r.ID]; dup {
			return syncErrors.NewStoreError(syncErrors.OpReplace, collection,
				fmt.Errorf("%w: id %s", ErrRecordExists, r.ID))
		}
		next[r.ID] = r.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, ErrStoreClosed)
	}
	s.collections[collection] = next
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, r synckit.Record) error {
	return s.put(ctx, syncErrors.OpUpsert, collection, r, true)
}

func (s *Store) Insert(ctx context.Context, collection string, r synckit.Record) error {
	return s.put(ctx, syncErrors.OpInsert, collection, r, false)
}

func (s *Store) put(ctx context.Context, op syncErrors.Operation, collection string, r synckit.Record, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return syncErrors.NewStoreError(op, collection, err)
	}
	if r.ID == "" {
		return syncErrors.NewStoreError(op, collection, synckit.ErrMissingID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStoreError(op, collection, ErrStoreClosed)
	}
	records := s.collections[collection]
	if records == nil {
		records = make(map[string]synckit.Record)
		s.collections[collection] = records
	}
	if _, exists := records[r.ID]; exists && !overwrite {
		return syncErrors.NewStoreError(op, collection, fmt.Errorf("%w: id %s", ErrRecordExists, r.ID))
	}
	records[r.ID] = r.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStoreError(syncErrors.OpDelete, collection, ErrStoreClosed)
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}
