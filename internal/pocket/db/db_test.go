package db

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// setupTestDB opens a migrated database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return db
}

func testItem(id, url string, tags ...string) *schema.Item {
	return &schema.Item{
		ID:          id,
		URL:         url,
		Title:       "Item " + id,
		Tags:        schema.NewTags(id, tags...),
		TimeUpdated: 1000,
	}
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestMigrate_CreatesTables(t *testing.T) {
	db := setupTestDB(t)

	tables := []string{"items", "sync_cursor", "url_index", "url_candidates",
		"items_schema_version", "cursor_schema_version", "url_index_schema_version"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	versions, err := db.SchemaVersions(ctx)
	if err != nil {
		t.Fatalf("SchemaVersions() failed: %v", err)
	}
	want := map[string]int64{StoreItems: 2, StoreCursor: 1, StoreURLIndex: 2}
	if !reflect.DeepEqual(versions, want) {
		t.Errorf("SchemaVersions() = %v, want %v", versions, want)
	}
}

func TestMigrateStore_Independent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := db.MigrateStore(ctx, StoreCursor); err != nil {
		t.Fatalf("MigrateStore(cursor) failed: %v", err)
	}
	if err := db.SetCursor(ctx, 5); err != nil {
		t.Fatalf("SetCursor() failed: %v", err)
	}

	var count int
	db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'`).Scan(&count)
	if count != 0 {
		t.Error("items table should not exist before its store is migrated")
	}
}

func TestMergeUpdates_InsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	item := testItem("1", "http://x")
	item.Payload = []byte(`{"item_id":"1","given_url":"http://x"}`)
	if err := db.MergeUpdates(ctx, schema.ItemMap{"1": item}); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	got, err := db.GetItem(ctx, "1")
	if err != nil {
		t.Fatalf("GetItem() failed: %v", err)
	}
	if got.URL != "http://x" {
		t.Errorf("URL = %q, want http://x", got.URL)
	}
	if string(got.Payload) != string(item.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, item.Payload)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("Tags = %v, want empty set", got.Tags)
	}
}

func TestMergeUpdates_ReplacesWholesale(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := testItem("1", "http://x", "a", "b")
	first.Excerpt = "old excerpt"
	if err := db.MergeUpdates(ctx, schema.ItemMap{"1": first}); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	second := testItem("1", "http://y", "c")
	second.Status = schema.StatusArchived
	if err := db.MergeUpdates(ctx, schema.ItemMap{"1": second}); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	got, err := db.GetItem(ctx, "1")
	if err != nil {
		t.Fatalf("GetItem() failed: %v", err)
	}
	if got.URL != "http://y" || got.Status != schema.StatusArchived {
		t.Errorf("got url=%q status=%v", got.URL, got.Status)
	}
	if got.Excerpt != "" {
		t.Errorf("Excerpt = %q, want empty after wholesale replace", got.Excerpt)
	}
	if names := got.Tags.Names(); !reflect.DeepEqual(names, []string{"c"}) {
		t.Errorf("Tags = %v, want [c]", names)
	}
}

func TestMergeUpdates_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := func() schema.ItemMap {
		return schema.ItemMap{
			"1": testItem("1", "http://a", "x"),
			"2": testItem("2", "http://b"),
		}
	}
	if err := db.MergeUpdates(ctx, batch()); err != nil {
		t.Fatalf("first MergeUpdates() failed: %v", err)
	}
	once, _ := db.AllItems(ctx)

	if err := db.MergeUpdates(ctx, batch()); err != nil {
		t.Fatalf("second MergeUpdates() failed: %v", err)
	}
	twice, _ := db.AllItems(ctx)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("store changed after re-applying batch:\n once=%v\ntwice=%v", once, twice)
	}
}

func TestMergeUpdates_AllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.MergeUpdates(ctx, schema.ItemMap{"1": testItem("1", "http://a")}); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	bad := schema.ItemMap{
		"1": testItem("1", "http://changed"),
		"2": {ID: "2"}, // missing url
	}
	err := db.MergeUpdates(ctx, bad)
	if err == nil {
		t.Fatal("expected error for invalid record")
	}
	if !pocket.IsStorage(err) {
		t.Errorf("expected storage error, got %T: %v", err, err)
	}

	got, _ := db.GetItem(ctx, "1")
	if got.URL != "http://a" {
		t.Errorf("item 1 was partially updated to %q", got.URL)
	}
	if _, err := db.GetItem(ctx, "2"); !errors.Is(err, pocket.ErrNotFound) {
		t.Errorf("item 2 should not exist, got %v", err)
	}
}

func TestMergeUpdates_ConcurrentReaders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const n = 20
	makeBatch := func(url string) schema.ItemMap {
		batch := make(schema.ItemMap, n)
		for i := 0; i < n; i++ {
			id := string(rune('a' + i))
			batch[id] = testItem(id, url)
		}
		return batch
	}
	if err := db.MergeUpdates(ctx, makeBatch("http://old")); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := db.MergeUpdates(ctx, makeBatch("http://new")); err != nil {
			t.Errorf("MergeUpdates() failed: %v", err)
		}
	}()

	for i := 0; i < 10; i++ {
		items, err := db.AllItems(ctx)
		if err != nil {
			t.Fatalf("AllItems() failed: %v", err)
		}
		seen := map[string]bool{}
		for _, item := range items {
			seen[item.URL] = true
		}
		if len(seen) != 1 {
			t.Fatalf("reader observed a partially applied batch: %v", seen)
		}
	}
	wg.Wait()
}

func TestGetItem_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetItem(context.Background(), "missing")
	if !errors.Is(err, pocket.ErrNotFound) {
		t.Errorf("GetItem() error = %v, want ErrNotFound", err)
	}
}

func TestPatchItemTags(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	item := testItem("1", "http://x", "a", "b")
	item.Title = "Keep me"
	if err := db.MergeUpdates(ctx, schema.ItemMap{"1": item}); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	patched, err := db.PatchItemTags(ctx, "1", []string{"c"}, []string{"a", "absent"})
	if err != nil {
		t.Fatalf("PatchItemTags() failed: %v", err)
	}
	if names := patched.Tags.Names(); !reflect.DeepEqual(names, []string{"b", "c"}) {
		t.Errorf("patched tags = %v", names)
	}

	got, _ := db.GetItem(ctx, "1")
	if names := got.Tags.Names(); !reflect.DeepEqual(names, []string{"b", "c"}) {
		t.Errorf("stored tags = %v", names)
	}
	if got.Title != "Keep me" {
		t.Errorf("Title = %q, patch must not touch other fields", got.Title)
	}
	if got.Tags["c"].ItemID != "1" {
		t.Errorf("new tag record has item id %q", got.Tags["c"].ItemID)
	}

	if _, err := db.PatchItemTags(ctx, "nope", []string{"c"}, nil); !errors.Is(err, pocket.ErrNotFound) {
		t.Errorf("PatchItemTags(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListItems(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	archived := testItem("2", "http://b", "go")
	archived.Status = schema.StatusArchived
	archived.TimeUpdated = 2000
	batch := schema.ItemMap{
		"1": testItem("1", "http://a", "go", "web"),
		"2": archived,
		"3": testItem("3", "http://c", "web"),
	}
	if err := db.MergeUpdates(ctx, batch); err != nil {
		t.Fatalf("MergeUpdates() failed: %v", err)
	}

	status := schema.StatusArchived
	tests := []struct {
		name   string
		filter ItemFilter
		want   []string
	}{
		{"all", ItemFilter{}, []string{"1", "2", "3"}},
		{"by tag", ItemFilter{Tag: "go"}, []string{"1", "2"}},
		{"by status", ItemFilter{Status: &status}, []string{"2"}},
		{"updated since", ItemFilter{UpdatedSince: 1500}, []string{"2"}},
		{"limit", ItemFilter{Limit: 2}, []string{"1", "2"}},
		{"no match", ItemFilter{Tag: "rust"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := db.ListItems(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListItems() failed: %v", err)
			}
			var ids []string
			for _, item := range items {
				ids = append(ids, item.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	count, err := db.ItemCount(ctx)
	if err != nil || count != 3 {
		t.Errorf("ItemCount() = %d, %v", count, err)
	}
}

func TestCursor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetCursor(ctx); err != nil || ok {
		t.Fatalf("fresh cursor: ok=%v err=%v, want absent", ok, err)
	}

	if err := db.SetCursor(ctx, 1000); err != nil {
		t.Fatalf("SetCursor() failed: %v", err)
	}
	if err := db.SetCursor(ctx, 2000); err != nil {
		t.Fatalf("SetCursor() failed: %v", err)
	}

	ts, ok, err := db.GetCursor(ctx)
	if err != nil || !ok || ts != 2000 {
		t.Errorf("GetCursor() = %d, %v, %v; want 2000", ts, ok, err)
	}

	var rows int
	db.conn.QueryRow(`SELECT COUNT(*) FROM sync_cursor`).Scan(&rows)
	if rows != 1 {
		t.Errorf("cursor table has %d rows, want 1", rows)
	}

	if err := db.ClearCursor(ctx); err != nil {
		t.Fatalf("ClearCursor() failed: %v", err)
	}
	if _, ok, _ := db.GetCursor(ctx); ok {
		t.Error("cursor still present after ClearCursor")
	}
}

func TestPutURLEntry_Ordering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	applied, err := db.PutURLEntry(ctx, URLEntry{URL: "example.com/a", DocPath: "new.md", DocModTime: base.Add(time.Hour)})
	if err != nil || !applied {
		t.Fatalf("first put: applied=%v err=%v", applied, err)
	}

	// An older document must not steal the key.
	applied, err = db.PutURLEntry(ctx, URLEntry{URL: "example.com/a", DocPath: "old.md", DocModTime: base, Source: SourceRebuild})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if applied {
		t.Error("stale document overwrote a newer entry")
	}

	// The owning document may always refresh its own entry.
	applied, err = db.PutURLEntry(ctx, URLEntry{URL: "example.com/a", DocPath: "new.md", DocModTime: base})
	if err != nil || !applied {
		t.Errorf("same-document put: applied=%v err=%v", applied, err)
	}

	// Equal modification times resolve by path order.
	applied, _ = db.PutURLEntry(ctx, URLEntry{URL: "example.com/b", DocPath: "b.md", DocModTime: base})
	if !applied {
		t.Fatal("insert into empty slot was not applied")
	}
	applied, _ = db.PutURLEntry(ctx, URLEntry{URL: "example.com/b", DocPath: "c.md", DocModTime: base})
	if applied {
		t.Error("tie resolved in favor of the later path")
	}
	applied, _ = db.PutURLEntry(ctx, URLEntry{URL: "example.com/b", DocPath: "a.md", DocModTime: base})
	if !applied {
		t.Error("tie not resolved in favor of the earlier path")
	}

	entry, err := db.LookupURL(ctx, "example.com/a")
	if err != nil {
		t.Fatalf("LookupURL() failed: %v", err)
	}
	if entry.DocPath != "new.md" {
		t.Errorf("DocPath = %q, want new.md", entry.DocPath)
	}
	if entry.Source != SourceEvent {
		t.Errorf("Source = %q, want %q", entry.Source, SourceEvent)
	}
}

func TestURLEntries_DeleteAndRename(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for _, url := range []string{"a.com", "b.com"} {
		if _, err := db.PutURLEntry(ctx, URLEntry{URL: url, DocPath: "doc.md", DocModTime: now}); err != nil {
			t.Fatalf("PutURLEntry() failed: %v", err)
		}
	}
	if _, err := db.PutURLEntry(ctx, URLEntry{URL: "c.com", DocPath: "other.md", DocModTime: now}); err != nil {
		t.Fatalf("PutURLEntry() failed: %v", err)
	}

	n, err := db.DeleteURLEntriesForDocument(ctx, "doc.md", "b.com")
	if err != nil || n != 1 {
		t.Fatalf("DeleteURLEntriesForDocument() = %d, %v; want 1", n, err)
	}
	urls, _ := db.URLsForDocument(ctx, "doc.md")
	if !reflect.DeepEqual(urls, []string{"b.com"}) {
		t.Errorf("URLsForDocument() = %v", urls)
	}

	moved, err := db.RenameDocument(ctx, "doc.md", "moved/doc.md")
	if err != nil || moved != 1 {
		t.Fatalf("RenameDocument() = %d, %v", moved, err)
	}
	entry, err := db.LookupURL(ctx, "b.com")
	if err != nil || entry.DocPath != "moved/doc.md" {
		t.Errorf("after rename: entry=%v err=%v", entry, err)
	}

	if _, err := db.LookupURL(ctx, "a.com"); !errors.Is(err, pocket.ErrNotFound) {
		t.Errorf("LookupURL(a.com) error = %v, want ErrNotFound", err)
	}

	count, _ := db.URLEntryCount(ctx)
	if count != 2 {
		t.Errorf("URLEntryCount() = %d, want 2", count)
	}
	if err := db.DeleteAllURLEntries(ctx); err != nil {
		t.Fatalf("DeleteAllURLEntries() failed: %v", err)
	}
	entries, _ := db.AllURLEntries(ctx)
	if len(entries) != 0 {
		t.Errorf("index not empty after DeleteAllURLEntries: %v", entries)
	}
}

func TestURLCandidates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	claims := []URLEntry{
		{URL: "example.com/x", DocPath: "b.md", DocModTime: base},
		{URL: "example.com/x", DocPath: "a.md", DocModTime: base},
		{URL: "example.com/x", DocPath: "z.md", DocModTime: base.Add(time.Hour)},
		{URL: "example.com/y", DocPath: "a.md", DocModTime: base},
	}
	for _, c := range claims {
		if err := db.PutURLCandidate(ctx, c); err != nil {
			t.Fatalf("PutURLCandidate() failed: %v", err)
		}
	}

	paths := func(url string) []string {
		t.Helper()
		cs, err := db.URLCandidates(ctx, url)
		if err != nil {
			t.Fatalf("URLCandidates() failed: %v", err)
		}
		var out []string
		for _, c := range cs {
			out = append(out, c.DocPath)
		}
		return out
	}

	if got := paths("example.com/x"); !reflect.DeepEqual(got, []string{"z.md", "a.md", "b.md"}) {
		t.Errorf("URLCandidates(x) = %v", got)
	}

	if _, err := db.RenameDocument(ctx, "a.md", "0.md"); err != nil {
		t.Fatalf("RenameDocument() failed: %v", err)
	}
	if err := db.DeleteURLCandidatesForDocument(ctx, "z.md", ""); err != nil {
		t.Fatalf("DeleteURLCandidatesForDocument() failed: %v", err)
	}
	if got := paths("example.com/x"); !reflect.DeepEqual(got, []string{"0.md", "b.md"}) {
		t.Errorf("URLCandidates(x) after rename = %v", got)
	}

	docs, err := db.CandidateDocuments(ctx)
	if err != nil || !reflect.DeepEqual(docs, []string{"0.md", "b.md"}) {
		t.Errorf("CandidateDocuments() = %v, %v", docs, err)
	}

	if err := db.DeleteAllURLEntries(ctx); err != nil {
		t.Fatalf("DeleteAllURLEntries() failed: %v", err)
	}
	if got := paths("example.com/y"); len(got) != 0 {
		t.Errorf("candidates left after DeleteAllURLEntries: %v", got)
	}
}

func TestClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}
