// Package app wires the replica's components together for the CLI and the
// daemon: one store, one vault, one URL index, one remote client, and the
// engine, reconciler and note creator on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/mschirtzinger/pocketsync/internal/api"
	"github.com/mschirtzinger/pocketsync/internal/config"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/dashboard"
	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
	"github.com/mschirtzinger/pocketsync/internal/pocket/index"
	"github.com/mschirtzinger/pocketsync/internal/pocket/notes"
	"github.com/mschirtzinger/pocketsync/internal/pocket/reconcile"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
	psync "github.com/mschirtzinger/pocketsync/internal/pocket/sync"
	"github.com/mschirtzinger/pocketsync/internal/vault"
)

// LoggerFunc returns the logger for a component name.
type LoggerFunc func(component string) *log.Logger

// Hooks receive completion events. Any of them may be nil.
type Hooks struct {
	OnSync      func(*psync.Result)
	OnReconcile func(*reconcile.Summary)
	OnIndex     func(index.Event)
}

// Options configures Open.
type Options struct {
	// Loggers builds component loggers (default stderr with prefixes).
	Loggers LoggerFunc
	// Remote overrides the API client.
	Remote *api.Client
}

// App holds the wired components.
type App struct {
	Config     *config.Config
	DB         *db.DB
	Vault      *vault.Vault
	Index      index.Index
	Client     *api.Client
	Engine     *psync.Engine
	Reconciler *reconcile.Reconciler
	Notes      *notes.Creator

	logger *log.Logger

	hooksMu sync.RWMutex
	hooks   Hooks
}

// Open validates cfg, opens and migrates the database and builds every
// component.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loggers := opts.Loggers
	if loggers == nil {
		loggers = func(component string) *log.Logger {
			return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := db.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	v, err := vault.New(vault.Config{
		Root:        cfg.Vault,
		URLProperty: cfg.Notes.URLProperty,
		FolderTags:  cfg.Reconcile.FolderTags,
		NotesFolder: cfg.Notes.Folder,
		CacheSize:   cfg.Index.CacheSize,
		Logger:      loggers("vault"),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     store,
		Vault:  v,
		logger: loggers("app"),
	}

	a.Client = opts.Remote
	if a.Client == nil {
		a.Client = api.New(api.Config{
			BaseURL:     cfg.API.BaseURL,
			ConsumerKey: cfg.API.ConsumerKey,
			Timeout:     cfg.API.Timeout,
			Logger:      loggers("api"),
		})
	}

	a.Index = index.New(index.Config{
		DB:        store,
		Documents: v,
		Logger:    loggers("index"),
		OnEvent: func(ev index.Event) {
			if h := a.getHooks().OnIndex; h != nil {
				h(ev)
			}
		},
	})

	token := func() string { return cfg.API.AccessToken }

	a.Engine = psync.New(psync.Config{
		Store:    store,
		Remote:   a.Client,
		Token:    token,
		LockPath: cfg.DB + ".sync.lock",
		Logger:   loggers("sync"),
		OnComplete: func(res *psync.Result) {
			if h := a.getHooks().OnSync; h != nil {
				h(res)
			}
		},
	})

	a.Reconciler = reconcile.New(reconcile.Config{
		Store:  store,
		Index:  a.Index,
		Tags:   v,
		Remote: a.Client,
		Token:  token,
		Logger: loggers("reconcile"),
		OnComplete: func(sum *reconcile.Summary) {
			if h := a.getHooks().OnReconcile; h != nil {
				h(sum)
			}
		},
	})

	a.Notes = notes.New(notes.Config{
		Store:      store,
		Index:      a.Index,
		Writer:     v,
		IgnoreTags: cfg.Notes.IgnoreTags,
		Logger:     loggers("notes"),
	})

	return a, nil
}

// SetHooks replaces the completion hooks.
func (a *App) SetHooks(h Hooks) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.hooks = h
}

func (a *App) getHooks() Hooks {
	a.hooksMu.RLock()
	defer a.hooksMu.RUnlock()
	return a.hooks
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// Sync runs a pass with the configured tag filter.
func (a *App) Sync(ctx context.Context) (*psync.Result, error) {
	return a.SyncTag(ctx, a.Config.Sync.Tag)
}

// SyncTag runs a pass restricted to tag. When note creation on sync is
// enabled, notes for unresolved items are written once the pass has
// committed.
func (a *App) SyncTag(ctx context.Context, tag string) (*psync.Result, error) {
	res, err := a.Engine.Run(ctx, tag)
	if err != nil {
		return nil, err
	}
	if !a.Config.Sync.CreateNotes {
		return res, nil
	}

	report, err := a.Notes.CreateMissing(ctx)
	switch {
	case errors.Is(err, pocket.ErrAlreadyInProgress):
		a.logger.Printf("Note creation already running, skipped after sync %s", res.RunID)
	case err != nil:
		return res, fmt.Errorf("sync committed but note creation failed: %w", err)
	case len(report.Created) > 0 || report.Failed > 0:
		a.logger.Printf("Created %d notes (%d failed) after sync %s", len(report.Created), report.Failed, res.RunID)
	}
	return res, nil
}

// Reconcile pushes vault tags for the configured allowed set.
func (a *App) Reconcile(ctx context.Context) (*reconcile.Summary, error) {
	return a.Reconciler.Reconcile(ctx, a.Config.Reconcile.AllowTags)
}

// PlanReconcile computes the mutations Reconcile would submit.
func (a *App) PlanReconcile(ctx context.Context) ([]schema.Action, error) {
	return a.Reconciler.Plan(ctx, a.Config.Reconcile.AllowTags)
}

// RebuildIndex rescans the vault.
func (a *App) RebuildIndex(ctx context.Context) (int, error) {
	return a.Index.RebuildAll(ctx)
}

// ListItems lists stored items.
func (a *App) ListItems(ctx context.Context, filter db.ItemFilter) ([]*schema.Item, error) {
	return a.DB.ListItems(ctx, filter)
}

// GetItem returns one stored item.
func (a *App) GetItem(ctx context.Context, id string) (*schema.Item, error) {
	return a.DB.GetItem(ctx, id)
}

// Stats summarizes the replica.
func (a *App) Stats(ctx context.Context) (*dashboard.StatsData, error) {
	items, err := a.DB.AllItems(ctx)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[string]int)
	for _, item := range items {
		byStatus[item.Status.String()]++
	}
	cursor, _, err := a.DB.GetCursor(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := a.Index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &dashboard.StatsData{
		Items:        len(items),
		ByStatus:     byStatus,
		Cursor:       int64(cursor),
		IndexEntries: entries,
		Syncing:      a.Engine.Running(),
		Reconciling:  a.Reconciler.Running(),
	}, nil
}

// DaemonSyncer adapts the app to the daemon's periodic sync.
func (a *App) DaemonSyncer() Syncer {
	return Syncer{app: a}
}

// Syncer runs Sync and drops the result.
type Syncer struct {
	app *App
}

// Sync runs one pass.
func (s Syncer) Sync(ctx context.Context) error {
	_, err := s.app.Sync(ctx)
	return err
}

var _ dashboard.Backend = (*App)(nil)
