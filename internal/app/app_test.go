package app

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/pocketsync/internal/config"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
	"github.com/mschirtzinger/pocketsync/internal/pocket/reconcile"
	psync "github.com/mschirtzinger/pocketsync/internal/pocket/sync"
	"github.com/mschirtzinger/pocketsync/internal/vault"
)

// fakePocket serves /v3/get and /v3/send and records submitted actions.
type fakePocket struct {
	mu      sync.Mutex
	actions []map[string]interface{}
}

func (f *fakePocket) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch r.URL.Path {
	case "/v3/get":
		_, _ = io.WriteString(w, `{
			"status": 1,
			"since": 5000,
			"list": {
				"11": {"item_id": "11", "given_url": "https://example.com/a", "resolved_title": "Alpha", "status": "0",
					"tags": {"go": {"item_id": "11", "tag": "go"}}},
				"12": {"item_id": "12", "given_url": "https://example.com/b", "resolved_title": "Beta", "status": "0"}
			}
		}`)
	case "/v3/send":
		var actions []map[string]interface{}
		_ = json.Unmarshal([]byte(r.PostForm.Get("actions")), &actions)
		f.mu.Lock()
		f.actions = append(f.actions, actions...)
		f.mu.Unlock()
		results := make([]bool, len(actions))
		for i := range results {
			results[i] = true
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": 1, "action_results": results})
	default:
		http.NotFound(w, r)
	}
}

func setupApp(t *testing.T, mutate func(*config.Config)) (*App, *fakePocket) {
	t.Helper()
	fake := &fakePocket{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha.md"),
		[]byte("---\nurl: https://example.com/a\ntags: [go, toread]\n---\nnotes\n"), 0644))

	cfg := &config.Config{
		Vault: root,
		DB:    filepath.Join(t.TempDir(), "data", "pocket.db"),
		API: config.APIConfig{
			BaseURL:     srv.URL,
			ConsumerKey: "ck",
			AccessToken: "tok",
			Timeout:     5 * time.Second,
		},
		Reconcile: config.ReconcileConfig{AllowTags: []string{"toread"}},
		Notes:     config.NotesConfig{Folder: "Pocket", URLProperty: vault.DefaultURLProperty},
	}
	if mutate != nil {
		mutate(cfg)
	}

	quiet := func(string) *log.Logger { return log.New(io.Discard, "", 0) }
	a, err := Open(context.Background(), cfg, Options{Loggers: quiet})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, fake
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{}, Options{})
	assert.Error(t, err)
}

func TestSyncThenReconcile(t *testing.T) {
	a, fake := setupApp(t, nil)
	ctx := context.Background()

	var synced *psync.Result
	var summary *reconcile.Summary
	a.SetHooks(Hooks{
		OnSync:      func(r *psync.Result) { synced = r },
		OnReconcile: func(s *reconcile.Summary) { summary = s },
	})

	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	require.NotNil(t, synced)
	assert.Equal(t, res.RunID, synced.RunID)

	_, err = a.RebuildIndex(ctx)
	require.NoError(t, err)

	plan, err := a.PlanReconcile(ctx)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "11", plan[0].ItemID)
	assert.Equal(t, "toread", plan[0].Tag)

	sum, err := a.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, sum.OK)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Same(t, sum, summary)

	require.Len(t, fake.actions, 1)
	assert.Equal(t, "tags_add", fake.actions[0]["action"])
	assert.Equal(t, "toread", fake.actions[0]["tags"])

	item, err := a.GetItem(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "toread"}, item.Tags.Names())

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Items)
	assert.Equal(t, 2, stats.ByStatus["normal"])
	assert.Equal(t, int64(5000), stats.Cursor)
	assert.Equal(t, 1, stats.IndexEntries)
	assert.False(t, stats.Syncing)
}

func TestSync_CreatesNotes(t *testing.T) {
	a, _ := setupApp(t, func(cfg *config.Config) { cfg.Sync.CreateNotes = true })
	ctx := context.Background()

	_, err := a.RebuildIndex(ctx)
	require.NoError(t, err)
	_, err = a.Sync(ctx)
	require.NoError(t, err)

	// Item 12 had no note; item 11 resolves to alpha.md.
	assert.FileExists(t, filepath.Join(a.Vault.Root(), "Pocket", "Beta.md"))
	assert.NoFileExists(t, filepath.Join(a.Vault.Root(), "Pocket", "Alpha.md"))

	ref, err := a.Index.Lookup(ctx, "https://example.com/b")
	require.NoError(t, err)
	assert.Equal(t, "Pocket/Beta.md", ref)
}

func TestSync_NotAuthenticated(t *testing.T) {
	a, _ := setupApp(t, func(cfg *config.Config) { cfg.API.AccessToken = "" })

	_, err := a.Sync(context.Background())
	assert.ErrorIs(t, err, pocket.ErrNotAuthenticated)

	items, err := a.ListItems(context.Background(), db.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDaemonSyncer(t *testing.T) {
	a, _ := setupApp(t, nil)
	require.NoError(t, a.DaemonSyncer().Sync(context.Background()))

	n, err := a.DB.ItemCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
