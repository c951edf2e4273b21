// Package notes creates vault notes for stored items that have none.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"

	"github.com/mschirtzinger/pocketsync/internal/metrics"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/index"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
	"github.com/mschirtzinger/pocketsync/internal/vault"
)

// Store lists stored items.
type Store interface {
	AllItems(ctx context.Context) ([]*schema.Item, error)
}

// Index resolves item URLs and learns about new notes.
type Index interface {
	Lookup(ctx context.Context, url string) (string, error)
	OnDocumentChanged(ctx context.Context, ref string) error
}

// Writer writes a note for an item and returns its ref.
type Writer interface {
	WriteItemNote(item *schema.Item) (string, error)
}

// Config configures a Creator.
type Config struct {
	Store  Store
	Index  Index
	Writer Writer
	// IgnoreTags excludes items carrying any of these tags.
	IgnoreTags []string
	// Logger (default stderr with [notes] prefix).
	Logger *log.Logger
}

// Report describes a bulk creation run.
type Report struct {
	// Missing is the number of items that had no note.
	Missing int `json:"missing"`
	// Created lists the refs of the new notes.
	Created []string `json:"created"`
	Failed  int      `json:"failed"`
	// Unindexable counts items skipped because their URL cannot be
	// normalized, so a note for them would never resolve.
	Unindexable int `json:"unindexable"`
}

// Creator bulk-creates notes.
type Creator struct {
	store  Store
	index  Index
	writer Writer
	ignore map[string]bool
	logger *log.Logger

	running atomic.Bool
}

// New creates a Creator.
func New(cfg Config) *Creator {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[notes] ", log.LstdFlags)
	}
	ignore := make(map[string]bool, len(cfg.IgnoreTags))
	for _, tag := range cfg.IgnoreTags {
		if tag = vault.NormalizeTag(tag); tag != "" {
			ignore[tag] = true
		}
	}
	return &Creator{
		store:  cfg.Store,
		index:  cfg.Index,
		writer: cfg.Writer,
		ignore: ignore,
		logger: cfg.Logger,
	}
}

// CreateMissing writes a note for every item that does not resolve to a
// document, skipping deleted items, items with an ignored tag and items
// whose URL the index cannot key. Each new note is indexed right away. A failure on one item is logged and counted
// without stopping the run.
func (c *Creator) CreateMissing(ctx context.Context) (*Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("note creation: %w", pocket.ErrAlreadyInProgress)
	}
	defer c.running.Store(false)

	items, err := c.store.AllItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	report := &Report{Created: []string{}}
	var missing []*schema.Item
	for _, item := range items {
		if item.Status == schema.StatusDeleted || c.ignored(item) {
			continue
		}
		ok, err := c.resolved(ctx, item)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		// The note carries the saved URL; if that has no index key the note
		// would never resolve and every run would write another copy.
		if _, err := index.Normalize(item.URL); err != nil {
			c.logger.Printf("WARNING: Skipping item %s: %v", item.ID, err)
			report.Unindexable++
			continue
		}
		missing = append(missing, item)
	}

	report.Missing = len(missing)
	if len(missing) == 0 {
		c.logger.Printf("No notes to create")
		return report, nil
	}
	c.logger.Printf("Found %d items without notes", len(missing))

	for _, item := range missing {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		// An earlier note in this run may already carry the same URL.
		if ok, err := c.resolved(ctx, item); err != nil {
			return report, err
		} else if ok {
			continue
		}

		ref, err := c.writer.WriteItemNote(item)
		if err != nil {
			c.logger.Printf("WARNING: Failed to create note for item %s: %v", item.ID, err)
			report.Failed++
			continue
		}
		if err := c.index.OnDocumentChanged(ctx, ref); err != nil {
			c.logger.Printf("WARNING: Failed to index new note %s: %v", ref, err)
		}
		report.Created = append(report.Created, ref)
		metrics.NotesCreatedTotal.Inc()
	}

	c.logger.Printf("Created %d notes (failed=%d)", len(report.Created), report.Failed)
	return report, nil
}

func (c *Creator) ignored(item *schema.Item) bool {
	for _, name := range item.Tags.Names() {
		if c.ignore[vault.NormalizeTag(name)] {
			return true
		}
	}
	return false
}

func (c *Creator) resolved(ctx context.Context, item *schema.Item) (bool, error) {
	for _, u := range item.URLs() {
		_, err := c.index.Lookup(ctx, u)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, pocket.ErrNotFound) {
			return false, fmt.Errorf("failed to resolve item %s: %w", item.ID, err)
		}
	}
	return false, nil
}
