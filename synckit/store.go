package synckit

import (
	"context"
	"encoding/json"
)

// ReplicaStore is the local, durable copy of every collection. Failures are
// reported as STORE_FAILURE sync errors.
type ReplicaStore interface {
	// ReadAll returns the full content of a collection.
	ReadAll(ctx context.Context, collection string) (Snapshot, error)

	// ReplaceAll atomically replaces the content of a collection.
	ReplaceAll(ctx context.Context, collection string, records []Record) error

	// Upsert inserts the record or replaces the one with the same id.
	Upsert(ctx context.Context, collection string, record Record) error

	// Insert adds a record and fails if its id is already present.
	Insert(ctx context.Context, collection string, record Record) error

	// Delete removes a record. A missing id is not an error.
	Delete(ctx context.Context, collection, id string) error

	Close() error
}

// Gateway reaches the remote authoritative store through its bulk
// endpoints. Failures are reported as IO_FAILURE sync errors.
type Gateway interface {
	// Export fetches the full remote content of a collection.
	Export(ctx context.Context, collection string) ([]Record, error)

	// Import sends the full local content of a collection and returns the
	// remote acknowledgement payload.
	Import(ctx context.Context, collection string, records []Record) (json.RawMessage, error)

	Close() error
}
