// Package storetest holds the behaviour every ReplicaStore implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/synckit"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) synckit.ReplicaStore

func record(id, updatedAt string, kv ...any) synckit.Record {
	r := synckit.Record{ID: id, UpdatedAt: updatedAt, Fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields[kv[i].(string)] = kv[i+1]
	}
	return r
}

// Run executes the shared store behaviour against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("empty collection", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		snap, err := s.ReadAll(ctx, "users")
		require.NoError(t, err)
		assert.Empty(t, snap)
	})

	t.Run("insert and read", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Insert(ctx, "objects", record("9", "T1", "name", "crate", "status", "in_attesa")))
		require.NoError(t, s.Insert(ctx, "objects", record("abc", "", "weight", json.Number("2.5"))))

		snap, err := s.ReadAll(ctx, "objects")
		require.NoError(t, err)
		require.Len(t, snap, 2)
		assert.Equal(t, record("9", "T1", "name", "crate", "status", "in_attesa"), snap["9"])
		assert.Equal(t, json.Number("2.5"), snap["abc"].Fields["weight"])
		assert.Equal(t, "", snap["abc"].UpdatedAt)
	})

	t.Run("insert rejects existing id", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Insert(ctx, "users", record("1", "T1")))
		err := s.Insert(ctx, "users", record("1", "T2"))
		require.Error(t, err)
		assert.True(t, syncErrors.IsStoreFailure(err))

		snap, err := s.ReadAll(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, "T1", snap["1"].UpdatedAt)
	})

	t.Run("upsert", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Upsert(ctx, "users", record("5", "T1", "name", "old")))
		require.NoError(t, s.Upsert(ctx, "users", record("5", "T1", "name", "X")))

		snap, err := s.ReadAll(ctx, "users")
		require.NoError(t, err)
		require.Len(t, snap, 1)
		assert.Equal(t, "X", snap["5"].Fields["name"])
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Insert(ctx, "users", record("1", "T")))
		require.NoError(t, s.Insert(ctx, "notes", record("1", "T", "text", "hi")))
		require.NoError(t, s.Delete(ctx, "users", "1"))

		users, err := s.ReadAll(ctx, "users")
		require.NoError(t, err)
		assert.Empty(t, users)

		notes, err := s.ReadAll(ctx, "notes")
		require.NoError(t, err)
		assert.Equal(t, "hi", notes["1"].Fields["text"])
	})

	t.Run("delete missing id", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		assert.NoError(t, s.Delete(ctx, "users", "404"))
	})

	t.Run("replace all", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Insert(ctx, "locations", record("1", "T")))
		require.NoError(t, s.Insert(ctx, "users", record("1", "T")))
		require.NoError(t, s.ReplaceAll(ctx, "locations", []synckit.Record{
			record("2", "T", "name", "Depot"),
			record("3", "T"),
		}))

		snap, err := s.ReadAll(ctx, "locations")
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3"}, snap.IDs())
		assert.Equal(t, "Depot", snap["2"].Fields["name"])

		users, err := s.ReadAll(ctx, "users")
		require.NoError(t, err)
		assert.Len(t, users, 1)

		require.NoError(t, s.ReplaceAll(ctx, "locations", nil))
		snap, err = s.ReadAll(ctx, "locations")
		require.NoError(t, err)
		assert.Empty(t, snap)
	})

	t.Run("replace all is atomic", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Insert(ctx, "users", record("1", "T")))
		err := s.ReplaceAll(ctx, "users", []synckit.Record{record("2", "T"), record("2", "U")})
		require.Error(t, err)
		assert.True(t, syncErrors.IsStoreFailure(err))

		snap, err := s.ReadAll(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, snap.IDs())
	})

	t.Run("closed store", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())

		_, err := s.ReadAll(ctx, "users")
		assert.True(t, syncErrors.IsStoreFailure(err))
		assert.True(t, syncErrors.IsStoreFailure(s.Upsert(ctx, "users", record("1", "T"))))
	})
}
