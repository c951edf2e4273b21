package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

const itemColumns = `item_id, given_url, resolved_url, title, excerpt, status,
	favorite, tags, time_added, time_updated, time_read, word_count, payload`

// GetItem retrieves a single item by id.
// Returns pocket.ErrNotFound if the item is not stored.
func (db *DB) GetItem(ctx context.Context, id string) (*schema.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE item_id = ?`
	item, err := scanItem(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, pocket.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get item "+id, err)
	}
	return item, nil
}

// AllItems returns every stored item ordered by item id.
func (db *DB) AllItems(ctx context.Context) ([]*schema.Item, error) {
	return db.ListItems(ctx, ItemFilter{})
}

// MergeUpdates replaces each item in the batch wholesale, inserting items
// that are not stored yet. The batch is committed in one transaction: a
// record that fails validation or fails to persist aborts the whole call and
// readers never observe a partially applied batch.
//
// Items are normalized in place before validation. Merging the same batch
// twice leaves the store unchanged.
func (db *DB) MergeUpdates(ctx context.Context, batch schema.ItemMap) error {
	if len(batch) == 0 {
		return nil
	}

	ids := batch.IDs()
	for _, id := range ids {
		item := batch[id]
		if item == nil {
			return storageErr("merge items", fmt.Errorf("item %s: nil record", id))
		}
		if item.ID != id {
			return storageErr("merge items", fmt.Errorf("item %s: keyed under %q", item.ID, id))
		}
		item.Normalize()
		if err := item.Validate(); err != nil {
			return storageErr("merge items", fmt.Errorf("invalid item: %w", err))
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("merge items", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO items (`+itemColumns+`, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(item_id) DO UPDATE SET
		given_url = excluded.given_url,
		resolved_url = excluded.resolved_url,
		title = excluded.title,
		excerpt = excluded.excerpt,
		status = excluded.status,
		favorite = excluded.favorite,
		tags = excluded.tags,
		time_added = excluded.time_added,
		time_updated = excluded.time_updated,
		time_read = excluded.time_read,
		word_count = excluded.word_count,
		payload = excluded.payload,
		stored_at = excluded.stored_at
	`)
	if err != nil {
		return storageErr("merge items", fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	storedAt := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		args, err := itemArgs(batch[id])
		if err != nil {
			return storageErr("merge items", err)
		}
		if _, err := stmt.ExecContext(ctx, append(args, storedAt)...); err != nil {
			return storageErr("merge items", fmt.Errorf("failed to upsert item %s: %w", id, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("merge items", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// PatchItemTags applies a targeted tag update to one stored item, leaving
// every other field as it is. Names in add are inserted, names in remove are
// deleted; removing an absent tag is a no-op. The updated item is returned.
func (db *DB) PatchItemTags(ctx context.Context, id string, add, remove []string) (*schema.Item, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("patch tags of "+id, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	query := `SELECT ` + itemColumns + ` FROM items WHERE item_id = ?`
	item, err := scanItem(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, pocket.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("patch tags of "+id, err)
	}

	for _, name := range add {
		item.Tags.Add(id, name)
	}
	for _, name := range remove {
		item.Tags.Remove(name)
	}

	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return nil, storageErr("patch tags of "+id, fmt.Errorf("failed to marshal tags: %w", err))
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE items SET tags = ?, stored_at = ? WHERE item_id = ?`,
		string(tagsJSON), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return nil, storageErr("patch tags of "+id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("patch tags of "+id, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return item, nil
}

// DeleteItem removes an item. Returns nil if the item doesn't exist.
func (db *DB) DeleteItem(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM items WHERE item_id = ?`, id); err != nil {
		return storageErr("delete item "+id, err)
	}
	return nil
}

// ItemCount returns the number of stored items.
func (db *DB) ItemCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return 0, storageErr("count items", err)
	}
	return count, nil
}

// ItemFilter configures ListItems.
type ItemFilter struct {
	// Status filters by status (nil = all statuses)
	Status *schema.Status
	// Tag filters to items carrying the tag (empty = all)
	Tag string
	// UpdatedSince keeps items updated remotely at or after the timestamp (0 = all)
	UpdatedSince schema.Timestamp
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListItems retrieves items matching the filter, ordered by item id.
func (db *DB) ListItems(ctx context.Context, filter ItemFilter) ([]*schema.Item, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, int(*filter.Status))
	}
	if filter.Tag != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(items.tags) WHERE json_each.key = ?)")
		args = append(args, filter.Tag)
	}
	if filter.UpdatedSince > 0 {
		conditions = append(conditions, "time_updated >= ?")
		args = append(args, int64(filter.UpdatedSince))
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY item_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list items", err)
	}
	defer rows.Close()

	var items []*schema.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageErr("list items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list items", fmt.Errorf("error iterating items: %w", err))
	}
	return items, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*schema.Item, error) {
	var item schema.Item
	var status, favorite int
	var tagsJSON string
	var added, updated, read int64
	var payload sql.NullString

	err := row.Scan(
		&item.ID,
		&item.URL,
		&item.ResolvedURL,
		&item.Title,
		&item.Excerpt,
		&status,
		&favorite,
		&tagsJSON,
		&added,
		&updated,
		&read,
		&item.WordCount,
		&payload,
	)
	if err != nil {
		return nil, err
	}

	item.Status = schema.Status(status)
	item.Favorite = favorite != 0
	item.TimeAdded = schema.Timestamp(added)
	item.TimeUpdated = schema.Timestamp(updated)
	item.TimeRead = schema.Timestamp(read)

	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags of item %s: %w", item.ID, err)
	}
	if payload.Valid && payload.String != "" {
		item.Payload = json.RawMessage(payload.String)
	}
	return &item, nil
}

func itemArgs(item *schema.Item) ([]interface{}, error) {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags of item %s: %w", item.ID, err)
	}
	var payload sql.NullString
	if len(item.Payload) > 0 {
		payload = sql.NullString{String: string(item.Payload), Valid: true}
	}
	favorite := 0
	if item.Favorite {
		favorite = 1
	}
	return []interface{}{
		item.ID,
		item.URL,
		item.ResolvedURL,
		item.Title,
		item.Excerpt,
		int(item.Status),
		favorite,
		string(tagsJSON),
		int64(item.TimeAdded),
		int64(item.TimeUpdated),
		int64(item.TimeRead),
		item.WordCount,
		payload,
	}, nil
}
