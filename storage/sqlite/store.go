// Package sqlite provides a SQLite implementation of the boxsync ReplicaStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	stdSync "sync"
	"time"

	"github.com/mattn/go-sqlite3"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/synckit"
)

// Custom errors for better error handling
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrRecordExists = errors.New("record already exists")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration options for the SQLite replica store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the path or URI of the database file.
	// Example: "file:replica.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL appends "_journal_mode=WAL" to DataSourceName when no
	// journal mode was given.
	EnableWAL bool

	// Logger defaults to the package-level logging default.
	Logger *logging.Logger

	// TableName defaults to "replica_records".
	TableName string

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "replica_records"
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store keeps every collection in one table keyed by (collection, id). The
// record body is stored as its flat JSON form.
type Store struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	logger    *logging.Logger
	tableName string
}

// Compile-time check to ensure Store satisfies the ReplicaStore interface
var _ synckit.ReplicaStore = (*Store)(nil)

// New opens the database and creates the table if needed.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	logger := config.Logger.WithComponent("sqlite-store")
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{db: db, logger: logger, tableName: config.TableName}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "SQLite replica store initialized",
		slog.String("table_name", config.TableName),
	)
	return store, nil
}

func (s *Store) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        collection  TEXT NOT NULL,
        id          TEXT NOT NULL,
        updated_at  TEXT NOT NULL DEFAULT '',
        body        TEXT NOT NULL,
        stored_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (collection, id)
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_collection ON %[1]s (collection);
    `, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// ReadAll returns every record of a collection.
func (s *Store) ReadAll(ctx context.Context, collection string) (synckit.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection, err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT body FROM %s WHERE collection = ?`, s.tableName), collection)
	if err != nil {
		return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection, err)
	}
	defer rows.Close()

	snap := synckit.Snapshot{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection, err)
		}
		var r synckit.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection,
				fmt.Errorf("corrupt record body: %w", err))
		}
		snap[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStoreError(syncErrors.OpRead, collection, err)
	}
	return snap, nil
}

// ReplaceAll swaps the content of a collection in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, collection string, records []synckit.Record) (err error) {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collection = ?`, s.tableName), collection); err != nil {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (collection, id, updated_at, body) VALUES (?, ?, ?, ?)`, s.tableName))
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
	}
	defer stmt.Close()

	for _, r := range records {
		body, mErr := json.Marshal(r)
		if mErr != nil {
			err = mErr
			return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
		}
		if _, err = stmt.ExecContext(ctx, collection, r.ID, r.UpdatedAt, string(body)); err != nil {
			return syncErrors.NewStoreError(syncErrors.OpReplace, collection, translate(err, r.ID))
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStoreError(syncErrors.OpReplace, collection, err)
	}
	s.logger.Debug("Collection replaced", "collection", collection, "records", len(records))
	return nil
}

// Upsert inserts the record or replaces the stored one with the same id.
func (s *Store) Upsert(ctx context.Context, collection string, r synckit.Record) error {
	return s.write(ctx, syncErrors.OpUpsert, collection, r, fmt.Sprintf(`
        INSERT INTO %s (collection, id, updated_at, body) VALUES (?, ?, ?, ?)
        ON CONFLICT (collection, id) DO UPDATE SET
            updated_at = excluded.updated_at,
            body = excluded.body,
            stored_at = CURRENT_TIMESTAMP`, s.tableName))
}

// Insert adds a record and fails with ErrRecordExists for a known id.
func (s *Store) Insert(ctx context.Context, collection string, r synckit.Record) error {
	return s.write(ctx, syncErrors.OpInsert, collection, r,
		fmt.Sprintf(`INSERT INTO %s (collection, id, updated_at, body) VALUES (?, ?, ?, ?)`, s.tableName))
}

func (s *Store) write(ctx context.Context, op syncErrors.Operation, collection string, r synckit.Record, query string) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStoreError(op, collection, err)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return syncErrors.NewStoreError(op, collection, err)
	}
	if _, err := s.db.ExecContext(ctx, query, collection, r.ID, r.UpdatedAt, string(body)); err != nil {
		return syncErrors.NewStoreError(op, collection, translate(err, r.ID))
	}
	return nil
}

// Delete removes a record; deleting an unknown id succeeds.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStoreError(syncErrors.OpDelete, collection, err)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND id = ?`, s.tableName), collection, id)
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpDelete, collection, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

func translate(err error, id string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: id %s", ErrRecordExists, id)
	}
	return err
}
