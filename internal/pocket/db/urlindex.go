package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
)

// Sources of URL index writes.
const (
	SourceEvent   = "event"
	SourceRebuild = "rebuild"
)

// URLEntry maps a normalized URL to the local document that carries it.
type URLEntry struct {
	URL        string
	DocPath    string
	DocModTime time.Time
	Source     string
	WrittenAt  time.Time
}

// LookupURL returns the entry for a normalized URL.
// Returns pocket.ErrNotFound if no document carries the URL.
func (db *DB) LookupURL(ctx context.Context, url string) (*URLEntry, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT url, doc_path, doc_mtime, source, written_at
	FROM url_index WHERE url = ?`, url)
	entry, err := scanURLEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("url %s: %w", url, pocket.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("lookup url", err)
	}
	return entry, nil
}

// URLsForDocument returns the URLs currently pointing at docPath.
func (db *DB) URLsForDocument(ctx context.Context, docPath string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT url FROM url_index WHERE doc_path = ? ORDER BY url`, docPath)
	if err != nil {
		return nil, storageErr("list urls of "+docPath, err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, storageErr("list urls of "+docPath, err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list urls of "+docPath, err)
	}
	return urls, nil
}

// PutURLEntry inserts or overwrites the entry for entry.URL. An existing
// entry is replaced only when it already belongs to the same document, when
// the incoming document is newer, or, for equal modification times, when the
// incoming path sorts first. Competing documents therefore resolve to the
// same owner whatever order the writes arrive in.
// Reports whether the write was applied.
func (db *DB) PutURLEntry(ctx context.Context, entry URLEntry) (bool, error) {
	if entry.URL == "" || entry.DocPath == "" {
		return false, storageErr("put url entry", fmt.Errorf("url and document path are required"))
	}
	if entry.Source == "" {
		entry.Source = SourceEvent
	}
	if entry.WrittenAt.IsZero() {
		entry.WrittenAt = time.Now()
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO url_index (url, doc_path, doc_mtime, source, written_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		doc_path = excluded.doc_path,
		doc_mtime = excluded.doc_mtime,
		source = excluded.source,
		written_at = excluded.written_at
	WHERE url_index.doc_path = excluded.doc_path
	   OR excluded.doc_mtime > url_index.doc_mtime
	   OR (excluded.doc_mtime = url_index.doc_mtime AND excluded.doc_path < url_index.doc_path)
	`,
		entry.URL,
		entry.DocPath,
		entry.DocModTime.UnixNano(),
		entry.Source,
		entry.WrittenAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, storageErr("put url entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("put url entry", err)
	}
	return n > 0, nil
}

// DeleteURLEntriesForDocument removes every entry pointing at docPath
// except keepURL (pass "" to remove all). Returns the number removed.
func (db *DB) DeleteURLEntriesForDocument(ctx context.Context, docPath, keepURL string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM url_index WHERE doc_path = ? AND url != ?`, docPath, keepURL)
	if err != nil {
		return 0, storageErr("delete url entries of "+docPath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete url entries of "+docPath, err)
	}
	return n, nil
}

// RenameDocument repoints every entry and candidate of oldPath at newPath
// without touching the keys. Returns the number of index entries moved.
func (db *DB) RenameDocument(ctx context.Context, oldPath, newPath string) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("rename document "+oldPath, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE url_index SET doc_path = ?, written_at = ? WHERE doc_path = ?`,
		newPath, time.Now().UTC().Format(time.RFC3339Nano), oldPath)
	if err != nil {
		return 0, storageErr("rename document "+oldPath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("rename document "+oldPath, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE OR REPLACE url_candidates SET doc_path = ? WHERE doc_path = ?`,
		newPath, oldPath); err != nil {
		return 0, storageErr("rename document "+oldPath, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("rename document "+oldPath, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return n, nil
}

// PutURLCandidate records that entry.DocPath claims entry.URL, whether or
// not it owns the index entry.
func (db *DB) PutURLCandidate(ctx context.Context, entry URLEntry) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO url_candidates (url, doc_path, doc_mtime)
	VALUES (?, ?, ?)
	ON CONFLICT(url, doc_path) DO UPDATE SET doc_mtime = excluded.doc_mtime
	`, entry.URL, entry.DocPath, entry.DocModTime.UnixNano())
	if err != nil {
		return storageErr("put url candidate", err)
	}
	return nil
}

// DeleteURLCandidatesForDocument forgets every claim of docPath except
// keepURL (pass "" to forget all).
func (db *DB) DeleteURLCandidatesForDocument(ctx context.Context, docPath, keepURL string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM url_candidates WHERE doc_path = ? AND url != ?`, docPath, keepURL); err != nil {
		return storageErr("delete url candidates of "+docPath, err)
	}
	return nil
}

// URLCandidates returns the documents claiming url in ownership order:
// newest first, ties broken by path. The first one is the document
// PutURLEntry would keep.
func (db *DB) URLCandidates(ctx context.Context, url string) ([]*URLEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT url, doc_path, doc_mtime FROM url_candidates
	WHERE url = ?
	ORDER BY doc_mtime DESC, doc_path ASC`, url)
	if err != nil {
		return nil, storageErr("list candidates of "+url, err)
	}
	defer rows.Close()

	var entries []*URLEntry
	for rows.Next() {
		var entry URLEntry
		var mtime int64
		if err := rows.Scan(&entry.URL, &entry.DocPath, &mtime); err != nil {
			return nil, storageErr("list candidates of "+url, err)
		}
		entry.DocModTime = time.Unix(0, mtime)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list candidates of "+url, err)
	}
	return entries, nil
}

// CandidateDocuments returns every document path holding a claim.
func (db *DB) CandidateDocuments(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT doc_path FROM url_candidates ORDER BY doc_path`)
	if err != nil {
		return nil, storageErr("list candidate documents", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storageErr("list candidate documents", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list candidate documents", err)
	}
	return paths, nil
}

// AllURLEntries returns the whole index ordered by URL.
func (db *DB) AllURLEntries(ctx context.Context) ([]*URLEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT url, doc_path, doc_mtime, source, written_at
	FROM url_index ORDER BY url`)
	if err != nil {
		return nil, storageErr("list url entries", err)
	}
	defer rows.Close()

	var entries []*URLEntry
	for rows.Next() {
		entry, err := scanURLEntry(rows)
		if err != nil {
			return nil, storageErr("list url entries", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list url entries", err)
	}
	return entries, nil
}

// URLEntryCount returns the number of index entries.
func (db *DB) URLEntryCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM url_index").Scan(&count); err != nil {
		return 0, storageErr("count url entries", err)
	}
	return count, nil
}

// DeleteAllURLEntries empties the index and its candidates.
func (db *DB) DeleteAllURLEntries(ctx context.Context) error {
	for _, table := range []string{"url_index", "url_candidates"} {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return storageErr("clear "+table, err)
		}
	}
	return nil
}

func scanURLEntry(row rowScanner) (*URLEntry, error) {
	var entry URLEntry
	var mtime int64
	var writtenAt string
	if err := row.Scan(&entry.URL, &entry.DocPath, &mtime, &entry.Source, &writtenAt); err != nil {
		return nil, err
	}
	entry.DocModTime = time.Unix(0, mtime)
	if t, err := time.Parse(time.RFC3339Nano, writtenAt); err == nil {
		entry.WrittenAt = t
	}
	return &entry, nil
}
