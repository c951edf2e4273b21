// Package daemon keeps the URL index current while the process runs and
// optionally syncs the item store on an interval.
//
// The daemon:
//  1. Rebuilds the URL index on startup to catch edits made while stopped
//  2. Watches the vault tree and feeds debounced changes to the index
//  3. Pairs a rename-away with the following create into a rename event
//  4. Runs a sync pass every SyncInterval
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/index"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a sync pass. Zero disables
	// periodic sync.
	SyncInterval time.Duration

	// DebounceInterval is how long a path must stay quiet before its
	// change is applied. It is also the window in which a rename-away
	// and a create are paired.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     15 * time.Minute,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Vault is the part of the document store the daemon needs.
type Vault interface {
	Root() string
	Rel(path string) (string, error)
}

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) error
}

type changeKind int

const (
	changeUpdate changeKind = iota
	changeDelete
	changeRename
)

type change struct {
	kind   changeKind
	oldRef string
	at     time.Time
}

type pendingRename struct {
	ref string
	at  time.Time
}

// Daemon orchestrates vault watching, index maintenance and periodic sync.
type Daemon struct {
	index  index.Index
	vault  Vault
	syncer Syncer
	config *Config

	watcher       *FileWatcher
	changeQueue   map[string]*change // ref -> pending change
	renames       []pendingRename
	rebuildAt     time.Time
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Daemon. syncer may be nil to only maintain the index.
func New(idx index.Index, v Vault, syncer Syncer, config *Config) (*Daemon, error) {
	if idx == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if v == nil || v.Root() == "" {
		return nil, fmt.Errorf("vault cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		index:       idx,
		vault:       v,
		syncer:      syncer,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]*change),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start rebuilds the index, starts watching and blocks until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	count, err := d.index.RebuildAll(ctx)
	if err != nil {
		return fmt.Errorf("initial index rebuild failed: %w", err)
	}
	d.config.Logger.Printf("Indexed %d URLs", count)

	if err := d.watcher.Start(d.vault.Root()); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.vault.Root())

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	if d.syncer != nil && d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// watchFileEvents moves watcher events into the change queue.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueEvent(event, time.Now())

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueEvent records an event in the change queue.
func (d *Daemon) queueEvent(event FileEvent, now time.Time) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if event.Dir {
		// Documents below a vanished directory are not reported one by one.
		d.rebuildAt = now
		return
	}

	ref, err := d.vault.Rel(event.Path)
	if err != nil {
		d.config.Logger.Printf("Ignoring event outside vault: %v", err)
		return
	}

	pending := d.changeQueue[ref]
	switch event.Op {
	case OpRename:
		delete(d.changeQueue, ref)
		d.renames = append(d.renames, pendingRename{ref: ref, at: now})

	case OpCreate:
		if old, ok := d.takeRename(ref, now); ok {
			d.changeQueue[ref] = &change{kind: changeRename, oldRef: old, at: now}
			return
		}
		d.queueUpdate(ref, pending, now)

	case OpModify:
		d.queueUpdate(ref, pending, now)

	case OpDelete:
		d.changeQueue[ref] = &change{kind: changeDelete, at: now}
	}
}

func (d *Daemon) queueUpdate(ref string, pending *change, now time.Time) {
	if pending != nil && pending.kind == changeRename {
		pending.at = now
		return
	}
	d.changeQueue[ref] = &change{kind: changeUpdate, at: now}
}

// takeRename pops the oldest rename-away still inside the debounce window.
// Callers hold changeQueueMu.
func (d *Daemon) takeRename(ref string, now time.Time) (string, bool) {
	for i, r := range d.renames {
		if r.ref == ref || now.Sub(r.at) > d.config.DebounceInterval {
			continue
		}
		d.renames = append(d.renames[:i], d.renames[i+1:]...)
		return r.ref, true
	}
	return "", false
}

// processChangeQueue applies queued changes once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case now := <-ticker.C:
			d.processPendingChanges(d.ctx, now)
		}
	}
}

type readyChange struct {
	ref string
	change
}

// processPendingChanges applies every change that has been quiet for at
// least the debounce interval. A rename-away nobody claimed in that time is
// applied as a delete.
func (d *Daemon) processPendingChanges(ctx context.Context, now time.Time) {
	d.changeQueueMu.Lock()
	settled := func(at time.Time) bool { return now.Sub(at) >= d.config.DebounceInterval }

	rebuild := !d.rebuildAt.IsZero() && settled(d.rebuildAt)
	if rebuild {
		d.rebuildAt = time.Time{}
	}

	var ready []readyChange
	for ref, c := range d.changeQueue {
		if settled(c.at) {
			ready = append(ready, readyChange{ref: ref, change: *c})
			delete(d.changeQueue, ref)
		}
	}
	kept := d.renames[:0]
	for _, r := range d.renames {
		if settled(r.at) {
			ready = append(ready, readyChange{ref: r.ref, change: change{kind: changeDelete, at: r.at}})
			continue
		}
		kept = append(kept, r)
	}
	d.renames = kept
	d.changeQueueMu.Unlock()

	if rebuild {
		// A full rebuild supersedes the individual changes.
		d.config.Logger.Println("Directory changed, rebuilding index")
		if _, err := d.index.RebuildAll(ctx); err != nil {
			d.config.Logger.Printf("Error rebuilding index: %v", err)
		}
		return
	}

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].at.Equal(ready[j].at) {
			return ready[i].at.Before(ready[j].at)
		}
		return ready[i].ref < ready[j].ref
	})

	for _, c := range ready {
		var err error
		switch c.kind {
		case changeUpdate:
			err = d.index.OnDocumentChanged(ctx, c.ref)
		case changeDelete:
			err = d.index.OnDocumentDeleted(ctx, c.ref)
		case changeRename:
			if err = d.index.OnDocumentRenamed(ctx, c.oldRef, c.ref); err == nil {
				err = d.index.OnDocumentChanged(ctx, c.ref)
			}
		}
		if err != nil {
			d.config.Logger.Printf("Error indexing %s: %v", c.ref, err)
		}
	}
}

// periodicSync runs a sync pass at startup and then every SyncInterval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	d.runSync()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runSync()
		}
	}
}

func (d *Daemon) runSync() {
	err := d.syncer.Sync(d.ctx)
	switch {
	case err == nil:
	case errors.Is(err, pocket.ErrAlreadyInProgress):
		d.config.Logger.Println("Sync already in progress, skipping")
	case errors.Is(err, context.Canceled):
	default:
		d.config.Logger.Printf("Sync failed: %v", err)
	}
}
