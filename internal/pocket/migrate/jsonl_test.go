package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store
}

func seed(t *testing.T, store *db.DB) {
	t.Helper()
	err := store.MergeUpdates(context.Background(), schema.ItemMap{
		"1": {ID: "1", URL: "https://a.example", Title: "A", Tags: schema.NewTags("1", "go", "web"), TimeAdded: 1700000000},
		"2": {ID: "2", URL: "https://b.example", Status: schema.StatusArchived, Favorite: true},
	})
	if err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestDB(t)
	seed(t, src)

	path := filepath.Join(t.TempDir(), "out", "items.jsonl")
	res, err := Export(ctx, src, ExportOptions{Path: path})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if res.ItemsWritten != 2 {
		t.Errorf("ItemsWritten = %d, want 2", res.ItemsWritten)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not remain after export")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("Expected 2 lines, got %d", lines)
	}

	dst := setupTestDB(t)
	imp, err := Import(ctx, dst, ImportOptions{Path: path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imp.ItemsRead != 2 || imp.ItemsImported != 2 || len(imp.Errors) != 0 {
		t.Errorf("Unexpected import result: %+v", imp)
	}

	item, err := dst.GetItem(ctx, "1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Title != "A" || !item.Tags.Has("go") || !item.Tags.Has("web") || item.TimeAdded != 1700000000 {
		t.Errorf("Unexpected imported item: %+v", item)
	}
	item2, err := dst.GetItem(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if item2.Status != schema.StatusArchived || !item2.Favorite {
		t.Errorf("Unexpected imported item: %+v", item2)
	}
}

func TestExportBackup(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	seed(t, store)

	path := filepath.Join(t.TempDir(), "items.jsonl")

	// No existing file, no backup
	res, err := Export(ctx, store, ExportOptions{Path: path, Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.BackupCreated != "" {
		t.Errorf("Unexpected backup %s", res.BackupCreated)
	}

	if err := os.WriteFile(path, []byte("old contents\n"), 0600); err != nil {
		t.Fatal(err)
	}
	res, err = Export(ctx, store, ExportOptions{Path: path, Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.BackupCreated == "" {
		t.Fatal("Expected a backup")
	}
	backup, err := os.ReadFile(res.BackupCreated)
	if err != nil {
		t.Fatal(err)
	}
	if string(backup) != "old contents\n" {
		t.Errorf("Backup content = %q", backup)
	}
}

func TestImportDryRunAndInvalidRecords(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	path := filepath.Join(t.TempDir(), "in.jsonl")
	content := `{"item_id":"1","given_url":"https://a.example","status":0,"tags":[]}
{"item_id":"2","status":0,"tags":{}}
{"item_id":"3","given_url":"https://c.example","status":0,"tags":{"x":{"tag":"x"}}}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := Import(ctx, store, ImportOptions{Path: path, DryRun: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.ItemsRead != 3 || res.ItemsImported != 2 || len(res.Errors) != 1 {
		t.Errorf("Unexpected dry-run result: %+v", res)
	}
	if n, _ := store.ItemCount(ctx); n != 0 {
		t.Errorf("Dry run wrote %d items", n)
	}

	if _, err := Import(ctx, store, ImportOptions{Path: path}); err != nil {
		t.Fatal(err)
	}
	item, err := store.GetItem(ctx, "3")
	if err != nil {
		t.Fatal(err)
	}
	if tag := item.Tags["x"]; tag.ItemID != "3" {
		t.Errorf("Tag record not normalized: %+v", tag)
	}
}

func TestImportMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"item_id\":\"1\"\nnot json\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Import(context.Background(), setupTestDB(t), ImportOptions{Path: path}); err == nil {
		t.Error("Expected an error for malformed JSON")
	}
	if _, err := Import(context.Background(), setupTestDB(t), ImportOptions{Path: path + ".missing"}); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
