//go:build integration

package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/synckit"
)

func TestStore_WAL(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("WAL_EnabledByDefault", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "wal.db")
		config := DefaultConfig(dbPath)
		config.Logger = logging.Discard()
		require.True(t, config.EnableWAL)

		store, err := New(config)
		require.NoError(t, err)
		defer store.Close()

		err = store.Upsert(context.Background(), synckit.CollectionNotes,
			synckit.Record{ID: "1", UpdatedAt: "t", Fields: map[string]any{"text": "wal"}})
		require.NoError(t, err)

		_, err = os.Stat(dbPath + "-wal")
		assert.NoError(t, err, "WAL file should exist when WAL mode is active")
	})

	t.Run("WAL_ConnectionPoolDefaults", func(t *testing.T) {
		config := DefaultConfig(filepath.Join(tempDir, "pool.db"))

		assert.Equal(t, 25, config.MaxOpenConns)
		assert.Equal(t, 5, config.MaxIdleConns)
		assert.Equal(t, time.Hour, config.ConnMaxLifetime)
		assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	})

	t.Run("WAL_ReadersDuringReplace", func(t *testing.T) {
		config := DefaultConfig(filepath.Join(tempDir, "concurrent.db"))
		config.Logger = logging.Discard()
		store, err := New(config)
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		const writers = 5
		const perWriter = 20

		done := make(chan error, writers*2)
		for w := 0; w < writers; w++ {
			go func(w int) {
				records := make([]synckit.Record, 0, perWriter)
				for j := 0; j < perWriter; j++ {
					records = append(records, synckit.Record{ID: fmt.Sprintf("%d", j+1), UpdatedAt: fmt.Sprintf("w%d", w)})
				}
				done <- store.ReplaceAll(ctx, synckit.CollectionObjects, records)
			}(w)
			go func() {
				snap, err := store.ReadAll(ctx, synckit.CollectionObjects)
				if err == nil && len(snap) != 0 && len(snap) != perWriter {
					err = fmt.Errorf("reader saw a partial replace: %d records", len(snap))
				}
				done <- err
			}()
		}
		for i := 0; i < writers*2; i++ {
			assert.NoError(t, <-done)
		}

		snap, err := store.ReadAll(ctx, synckit.CollectionObjects)
		require.NoError(t, err)
		assert.Len(t, snap, perWriter)
	})
}
