package index

import (
	"context"

	"github.com/mschirtzinger/pocketsync/internal/vault"
)

// Index maps normalized URLs to the local documents that carry them.
//
// Writes from lifecycle events and from RebuildAll are serialized; when two
// documents claim the same URL the one with the newer modification time
// owns it (ties go to the path that sorts first), so the outcome does not
// depend on event order.
type Index interface {
	// Lookup returns the ref of the document carrying url, or an error
	// wrapping pocket.ErrNotFound. url is normalized first.
	Lookup(ctx context.Context, url string) (string, error)

	// OnDocumentChanged re-extracts ref's URL property. A new URL replaces
	// the document's previous entries; a missing or unparsable URL removes
	// them. A document that no longer exists is treated as deleted. URLs
	// the document gives up pass to the next document carrying them.
	OnDocumentChanged(ctx context.Context, ref string) error

	// OnDocumentDeleted removes every entry referencing ref. A URL ref
	// owned passes to the next document that still carries it.
	OnDocumentDeleted(ctx context.Context, ref string) error

	// OnDocumentRenamed repoints ref's entries at newRef, keeping the keys.
	OnDocumentRenamed(ctx context.Context, oldRef, newRef string) error

	// RebuildAll scans every document, indexing each as OnDocumentChanged
	// would, then prunes entries of documents that no longer exist.
	// Per-document failures are logged and skipped. Returns the number of
	// entries inserted or refreshed.
	RebuildAll(ctx context.Context) (int, error)

	// Reset removes every entry.
	Reset(ctx context.Context) error

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}

// Documents is the vault surface the index reads from.
type Documents interface {
	Load(ref string) (*vault.Document, error)
	Exists(ref string) bool
	Walk(ctx context.Context, fn func(ref string) error) error
}

// EventType names an index maintenance event.
type EventType string

const (
	EventChanged EventType = "changed"
	EventDeleted EventType = "deleted"
	EventRenamed EventType = "renamed"
	EventRebuilt EventType = "rebuilt"
)

// Event reports a completed index update.
type Event struct {
	Type   EventType `json:"type"`
	Ref    string    `json:"ref,omitempty"`
	OldRef string    `json:"old_ref,omitempty"`
	URL    string    `json:"url,omitempty"`
	Count  int       `json:"count,omitempty"`
}
