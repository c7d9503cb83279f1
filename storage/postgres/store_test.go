package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/storage/storetest"
	"github.com/boxboard/boxsync/synckit"
)

// testConnectionString returns the database to test against, or skips.
func testConnectionString(t *testing.T) string {
	t.Helper()
	connStr := os.Getenv("POSTGRES_TEST_CONNECTION")
	if connStr == "" {
		t.Skip("POSTGRES_TEST_CONNECTION not set")
	}
	return connStr
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig(testConnectionString(t))
	cfg.Logger = logging.Discard()
	cfg.TableName = fmt.Sprintf("replica_test_%d", time.Now().UnixNano())
	store, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanup, err := New(&Config{ConnectionString: cfg.ConnectionString, TableName: cfg.TableName, Logger: logging.Discard()})
		if err == nil {
			cleanup.db.Exec("DROP TABLE IF EXISTS " + cfg.TableName)
			cleanup.Close()
		}
	})
	return store
}

func TestStore(t *testing.T) {
	testConnectionString(t)
	storetest.Run(t, func(t *testing.T) synckit.ReplicaStore { return newTestStore(t) })
}

func TestStore_InsertDuplicateIsRecordExists(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, "users", synckit.Record{ID: "1"}))
	assert.ErrorIs(t, store.Insert(ctx, "users", synckit.Record{ID: "1"}), ErrRecordExists)
}

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "host=db user=app password=***", maskConnectionString("host=db user=app password=hunter2"))
	assert.Equal(t, "postgres://app:***@db/replica", maskConnectionString("postgres://app:hunter2@db/replica"))
	assert.Equal(t, "postgres://db/replica", maskConnectionString("postgres://db/replica"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Logger: logging.Discard()})
	assert.ErrorContains(t, err, "ConnectionString")

	_, err = New(&Config{ConnectionString: "postgres://x", TableName: "a-b", Logger: logging.Discard()})
	assert.ErrorContains(t, err, "invalid table name")
}
