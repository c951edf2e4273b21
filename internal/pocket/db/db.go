// Package db provides the durable stores behind the Pocket replica.
//
// All three stores live in one embedded SQLite file (ncruces/go-sqlite3, WAL
// mode) so that a single handle can be opened at startup and shared by every
// component:
//
//   - items: remote saved items keyed by item id (ItemStore)
//   - sync_cursor: single-row "last synced" server timestamp (SyncCursorStore)
//   - url_index: normalized URL -> local document reference (URLIndex storage)
//
// Each store carries its own goose version table, so their schemas upgrade
// independently:
//
//	items_schema_version
//	cursor_schema_version
//	url_index_schema_version
//
// Typical use:
//
//	store, err := db.Open(".pocketsync/pocket.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil {
//	    return err
//	}
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
)

//go:embed migrations
var migrations embed.FS

// Store names, also used as the migration directory under migrations/.
const (
	StoreItems    = "items"
	StoreCursor   = "cursor"
	StoreURLIndex = "url_index"
)

// Stores lists every store in migration order.
var Stores = []string{StoreItems, StoreCursor, StoreURLIndex}

// DB wraps the SQLite connection shared by all stores.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at path, creating the parent directory
// and the file if needed. Call Migrate before using any store.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so they apply to every pooled connection.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// journal_mode is persistent in the file, once is enough.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Migrate brings every store up to its latest schema version.
// It is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, name := range Stores {
		if err := db.MigrateStore(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStore upgrades a single store.
func (db *DB) MigrateStore(ctx context.Context, name string) error {
	provider, err := db.provider(name)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return &pocket.StorageError{Op: "migrate " + name, Err: err}
	}
	return nil
}

// SchemaVersions reports the applied schema version of each store.
func (db *DB) SchemaVersions(ctx context.Context) (map[string]int64, error) {
	versions := make(map[string]int64, len(Stores))
	for _, name := range Stores {
		provider, err := db.provider(name)
		if err != nil {
			return nil, err
		}
		v, err := provider.GetDBVersion(ctx)
		if err != nil {
			return nil, &pocket.StorageError{Op: "read schema version of " + name, Err: err}
		}
		versions[name] = v
	}
	return versions, nil
}

// provider builds a goose provider for one store. The provider is never
// closed here since Close would close the shared connection.
func (db *DB) provider(name string) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations for %s: %w", name, err)
	}
	versionTable, err := database.NewStore(database.DialectSQLite3, name+"_schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to create version store for %s: %w", name, err)
	}
	provider, err := goose.NewProvider("", db.conn, fsys, goose.WithStore(versionTable))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider for %s: %w", name, err)
	}
	return provider, nil
}

func storageErr(op string, err error) error {
	return &pocket.StorageError{Op: op, Err: err}
}
