// Package index maintains the URL index: the join between remote items and
// local documents.
//
// Keys are URLs run through Normalize, values are vault refs plus the
// document's modification time. The index is fed by document lifecycle
// events (changed, deleted, renamed) and by RebuildAll, which is run at
// startup and on demand to catch edits made while nothing was watching.
//
//	idx := index.New(index.Config{DB: store, Documents: v})
//	if _, err := idx.RebuildAll(ctx); err != nil {
//	    return err
//	}
//	ref, err := idx.Lookup(ctx, item.URL)
package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mschirtzinger/pocketsync/internal/metrics"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
)

// Config configures an Index.
type Config struct {
	DB        *db.DB
	Documents Documents
	// Logger (default stderr with [index] prefix).
	Logger *log.Logger
	// OnEvent is called after each successful update.
	OnEvent func(Event)
}

type urlIndex struct {
	db      *db.DB
	docs    Documents
	logger  *log.Logger
	onEvent func(Event)

	// mu serializes writes so a rebuild never interleaves with an event
	// for the same document.
	mu sync.Mutex
}

// New creates an Index over the url_index store.
func New(cfg Config) Index {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}
	return &urlIndex{
		db:      cfg.DB,
		docs:    cfg.Documents,
		logger:  cfg.Logger,
		onEvent: cfg.OnEvent,
	}
}

// Lookup implements Index.Lookup.
func (x *urlIndex) Lookup(ctx context.Context, url string) (string, error) {
	key, err := Normalize(url)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, pocket.ErrNotFound)
	}
	entry, err := x.db.LookupURL(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.DocPath, nil
}

// OnDocumentChanged implements Index.OnDocumentChanged.
func (x *urlIndex) OnDocumentChanged(ctx context.Context, ref string) error {
	x.mu.Lock()
	key, _, err := x.indexDocument(ctx, ref, db.SourceEvent)
	x.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.IndexEventsTotal.WithLabelValues(string(EventChanged)).Inc()
	x.emit(Event{Type: EventChanged, Ref: ref, URL: key})
	return nil
}

// OnDocumentDeleted implements Index.OnDocumentDeleted.
func (x *urlIndex) OnDocumentDeleted(ctx context.Context, ref string) error {
	x.mu.Lock()
	n, err := x.release(ctx, ref, "")
	x.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to remove index entries for %s: %w", ref, err)
	}

	if n > 0 {
		x.logger.Printf("Removed %d entries for deleted document %s", n, ref)
	}
	metrics.IndexEventsTotal.WithLabelValues(string(EventDeleted)).Inc()
	x.emit(Event{Type: EventDeleted, Ref: ref})
	return nil
}

// OnDocumentRenamed implements Index.OnDocumentRenamed.
func (x *urlIndex) OnDocumentRenamed(ctx context.Context, oldRef, newRef string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	n, err := x.db.RenameDocument(ctx, oldRef, newRef)
	if err != nil {
		return fmt.Errorf("failed to rename index entries %s -> %s: %w", oldRef, newRef, err)
	}
	if n == 0 {
		// Nothing was indexed under the old name; the new one may still
		// carry a URL we never saw.
		if _, _, err := x.indexDocument(ctx, newRef, db.SourceEvent); err != nil {
			return err
		}
	}

	x.logger.Printf("Renamed %s -> %s (%d entries)", oldRef, newRef, n)
	metrics.IndexEventsTotal.WithLabelValues(string(EventRenamed)).Inc()
	x.emit(Event{Type: EventRenamed, Ref: newRef, OldRef: oldRef})
	return nil
}

// RebuildAll implements Index.RebuildAll.
func (x *urlIndex) RebuildAll(ctx context.Context) (int, error) {
	x.logger.Printf("Starting full index rebuild")

	var (
		written int
		scanned int
		failed  int
	)
	seen := make(map[string]bool)

	err := x.docs.Walk(ctx, func(ref string) error {
		seen[ref] = true
		scanned++

		x.mu.Lock()
		_, ok, err := x.indexDocument(ctx, ref, db.SourceRebuild)
		x.mu.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			x.logger.Printf("WARNING: Failed to index %s: %v", ref, err)
			failed++
			return nil
		}
		if ok {
			written++
		}
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("failed to scan documents: %w", err)
	}

	pruned, err := x.prune(ctx, seen)
	if err != nil {
		return written, err
	}

	count, err := x.db.URLEntryCount(ctx)
	if err != nil {
		return written, err
	}
	metrics.IndexEntries.Set(float64(count))
	metrics.IndexEventsTotal.WithLabelValues(string(EventRebuilt)).Inc()

	x.logger.Printf("Index rebuild complete: documents=%d (failed=%d), written=%d, pruned=%d, entries=%d",
		scanned, failed, written, pruned, count)
	x.emit(Event{Type: EventRebuilt, Count: written})
	return written, nil
}

// prune releases the entries and claims of documents the scan did not
// visit and that no longer exist.
func (x *urlIndex) prune(ctx context.Context, seen map[string]bool) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries, err := x.db.AllURLEntries(ctx)
	if err != nil {
		return 0, err
	}
	paths, err := x.db.CandidateDocuments(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		paths = append(paths, e.DocPath)
	}

	pruned := 0
	checked := make(map[string]bool)
	for _, p := range paths {
		if seen[p] || checked[p] {
			continue
		}
		checked[p] = true
		if x.docs.Exists(p) {
			continue
		}
		n, err := x.release(ctx, p, "")
		if err != nil {
			return pruned, err
		}
		pruned += int(n)
	}
	return pruned, nil
}

// Reset implements Index.Reset.
func (x *urlIndex) Reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.db.DeleteAllURLEntries(ctx); err != nil {
		return err
	}
	metrics.IndexEntries.Set(0)
	x.logger.Printf("Index cleared")
	return nil
}

// Count implements Index.Count.
func (x *urlIndex) Count(ctx context.Context) (int, error) {
	return x.db.URLEntryCount(ctx)
}

// indexDocument brings ref's entries in line with its current URL property.
// It returns the normalized key ("" when the document has none) and whether
// an entry was written. Callers hold x.mu.
func (x *urlIndex) indexDocument(ctx context.Context, ref, source string) (string, bool, error) {
	doc, err := x.docs.Load(ref)
	if errors.Is(err, pocket.ErrNotFound) {
		_, err := x.release(ctx, ref, "")
		return "", false, err
	}
	if err != nil {
		return "", false, err
	}

	if doc.URL == "" {
		_, err := x.release(ctx, ref, "")
		return "", false, err
	}

	key, err := Normalize(doc.URL)
	if err != nil {
		x.logger.Printf("WARNING: Ignoring URL of %s: %v", ref, err)
		_, err := x.release(ctx, ref, "")
		return "", false, err
	}

	if _, err := x.release(ctx, ref, key); err != nil {
		return "", false, err
	}
	entry := db.URLEntry{
		URL:        key,
		DocPath:    ref,
		DocModTime: doc.ModTime,
		Source:     source,
	}
	if err := x.db.PutURLCandidate(ctx, entry); err != nil {
		return "", false, err
	}
	applied, err := x.db.PutURLEntry(ctx, entry)
	if err != nil {
		return "", false, err
	}
	if !applied {
		x.logger.Printf("URL %s of %s is owned by a newer document", key, ref)
	}
	return key, applied, nil
}

// release drops ref's entries and claims for every URL except keep, then
// hands each URL ref owned to the next document claiming it. Returns the
// number of entries removed. Callers hold x.mu.
func (x *urlIndex) release(ctx context.Context, ref, keep string) (int64, error) {
	owned, err := x.db.URLsForDocument(ctx, ref)
	if err != nil {
		return 0, err
	}
	n, err := x.db.DeleteURLEntriesForDocument(ctx, ref, keep)
	if err != nil {
		return 0, err
	}
	if err := x.db.DeleteURLCandidatesForDocument(ctx, ref, keep); err != nil {
		return n, err
	}
	for _, key := range owned {
		if key == keep {
			continue
		}
		if err := x.promote(ctx, key); err != nil {
			return n, err
		}
	}
	return n, nil
}

// promote gives key to the newest remaining claimant that still exists.
// Claimants deleted behind our back are left for the next rebuild to prune.
func (x *urlIndex) promote(ctx context.Context, key string) error {
	candidates, err := x.db.URLCandidates(ctx, key)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if !x.docs.Exists(c.DocPath) {
			continue
		}
		c.Source = db.SourceEvent
		if _, err := x.db.PutURLEntry(ctx, *c); err != nil {
			return err
		}
		x.logger.Printf("URL %s handed over to %s", key, c.DocPath)
		return nil
	}
	return nil
}

func (x *urlIndex) emit(ev Event) {
	if x.onEvent != nil {
		x.onEvent(ev)
	}
}
