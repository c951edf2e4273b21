package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// GetCursor returns the last successful sync timestamp.
// ok is false when no sync has completed yet.
func (db *DB) GetCursor(ctx context.Context) (ts schema.Timestamp, ok bool, err error) {
	var since int64
	err = db.conn.QueryRowContext(ctx, `SELECT since FROM sync_cursor WHERE id = 1`).Scan(&since)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("read sync cursor", err)
	}
	return schema.Timestamp(since), true, nil
}

// SetCursor stores the sync timestamp, replacing any previous value.
func (db *DB) SetCursor(ctx context.Context, ts schema.Timestamp) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_cursor (id, since, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		since = excluded.since,
		updated_at = excluded.updated_at
	`, int64(ts), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return storageErr("write sync cursor", err)
	}
	return nil
}

// ClearCursor forgets the cursor so the next sync is a full fetch.
func (db *DB) ClearCursor(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_cursor`); err != nil {
		return storageErr("clear sync cursor", err)
	}
	return nil
}
