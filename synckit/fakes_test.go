package synckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// fakeStore is an in-memory ReplicaStore with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]map[string]Record
	failOps map[string]error // keyed by "op:collection"
	writes  int
	closed  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]map[string]Record{}, failOps: map[string]error{}}
}

func (s *fakeStore) seed(collection string, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = map[string]Record{}
	}
	for _, r := range records {
		s.data[collection][r.ID] = r.Clone()
	}
}

func (s *fakeStore) fail(op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op+":"+collection] = err
}

func (s *fakeStore) check(op, collection string) error {
	if err, ok := s.failOps[op+":"+collection]; ok {
		return err
	}
	return nil
}

func (s *fakeStore) get(collection, id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[collection][id]
	return r, ok
}

func (s *fakeStore) ReadAll(ctx context.Context, collection string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStoreClosed
	}
	if err := s.check("read", collection); err != nil {
		return nil, err
	}
	out := Snapshot{}
	for id, r := range s.data[collection] {
		out[id] = r.Clone()
	}
	return out, nil
}

func (s *fakeStore) ReplaceAll(ctx context.Context, collection string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("replace", collection); err != nil {
		return err
	}
	s.data[collection] = map[string]Record{}
	for _, r := range records {
		s.data[collection][r.ID] = r.Clone()
	}
	s.writes++
	return nil
}

func (s *fakeStore) Upsert(ctx context.Context, collection string, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert", collection); err != nil {
		return err
	}
	if s.data[collection] == nil {
		s.data[collection] = map[string]Record{}
	}
	s.data[collection][r.ID] = r.Clone()
	s.writes++
	return nil
}

func (s *fakeStore) Insert(ctx context.Context, collection string, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("insert", collection); err != nil {
		return err
	}
	if _, exists := s.data[collection][r.ID]; exists {
		return fmt.Errorf("record %s already exists", r.ID)
	}
	if s.data[collection] == nil {
		s.data[collection] = map[string]Record{}
	}
	s.data[collection][r.ID] = r.Clone()
	s.writes++
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	return nil
}

func (s *fakeStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeGateway serves remote snapshots from memory and records uploads.
type fakeGateway struct {
	mu        sync.Mutex
	remote    map[string][]Record
	exportErr map[string]error
	importErr map[string]error
	imports   map[string][][]Record
	exports   int
	// block, when set, is waited on by every Export.
	block  chan struct{}
	closed bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		remote:    map[string][]Record{},
		exportErr: map[string]error{},
		importErr: map[string]error{},
		imports:   map[string][][]Record{},
	}
}

func (g *fakeGateway) Export(ctx context.Context, collection string) ([]Record, error) {
	g.mu.Lock()
	block := g.block
	g.exports++
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.exportErr[collection]; err != nil {
		return nil, err
	}
	out := make([]Record, len(g.remote[collection]))
	for i, r := range g.remote[collection] {
		out[i] = r.Clone()
	}
	return out, nil
}

func (g *fakeGateway) Import(ctx context.Context, collection string, records []Record) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.importErr[collection]; err != nil {
		return nil, err
	}
	cp := make([]Record, len(records))
	for i, r := range records {
		cp[i] = r.Clone()
	}
	g.imports[collection] = append(g.imports[collection], cp)
	return json.RawMessage(fmt.Sprintf(`{"imported":%d}`, len(records))), nil
}

func (g *fakeGateway) lastImport(collection string) []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	all := g.imports[collection]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (g *fakeGateway) exportCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exports
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

var (
	errBoom        = errors.New("boom")
	errStoreClosed = errors.New("store is closed")
)

func rec(id, updatedAt string, kv ...any) Record {
	r := Record{ID: id, UpdatedAt: updatedAt, Fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields[kv[i].(string)] = kv[i+1]
	}
	return r
}
