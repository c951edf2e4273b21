package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startWatcher starts a watcher on a fresh vault directory.
func startWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()

	root := t.TempDir()
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { fw.Stop() })
	return fw, root
}

// waitForEvent returns the first event for path with op, failing after timeout.
func waitForEvent(t *testing.T, fw *FileWatcher, path string, op EventOp) FileEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if ev.Path == path && ev.Op == op {
				return ev
			}
		case err := <-fw.Errors():
			t.Fatalf("Unexpected error: %v", err)
		case <-timeout:
			t.Fatalf("Timeout waiting for %s event on %s", op, path)
		}
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if err := fw.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}

	if err := fw.Start(t.TempDir()); err == nil {
		t.Error("Start() on a running watcher should fail")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}

	// Channels are closed after Stop
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel should be closed")
	}
	if _, ok := <-fw.Errors(); ok {
		t.Error("Errors channel should be closed")
	}
}

func TestFileWatcher_StartNonexistentDirectory(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after a failed Start()")
	}
}

func TestFileWatcher_DocumentLifecycle(t *testing.T) {
	fw, root := startWatcher(t)

	path := filepath.Join(root, "note.md")
	if err := os.WriteFile(path, []byte("---\nurl: https://a.example\n---\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, path, OpCreate)

	if err := os.WriteFile(path, []byte("---\nurl: https://b.example\n---\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, path, OpModify)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, path, OpDelete)
}

func TestFileWatcher_Rename(t *testing.T) {
	fw, root := startWatcher(t)

	oldPath := filepath.Join(root, "old.md")
	newPath := filepath.Join(root, "new.md")
	if err := os.WriteFile(oldPath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, oldPath, OpCreate)

	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, oldPath, OpRename)
	waitForEvent(t, fw, newPath, OpCreate)
}

func TestFileWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	fw, root := startWatcher(t)

	dir := filepath.Join(root, "clips", "2024")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	// Give the watcher a moment to add the new directories.
	deadline := time.Now().Add(2 * time.Second)
	for {
		fw.mu.Lock()
		watched := fw.dirs[dir]
		fw.mu.Unlock()
		if watched {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new subdirectory was not watched")
		}
		time.Sleep(10 * time.Millisecond)
	}

	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<html></html>"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, path, OpCreate)
}

func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	fw, root := startWatcher(t)

	if err := os.MkdirAll(filepath.Join(root, ".obsidian"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"image.png", "notes.txt", ".obsidian/workspace.md"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	marker := filepath.Join(root, "marker.md")
	if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if ev.Path == marker {
				return
			}
			if !ev.Dir {
				t.Errorf("Unexpected event: %s %s", ev.Op, ev.Path)
			}
		case <-timeout:
			t.Fatal("Timeout waiting for marker event")
		}
	}
}

func TestFileWatcher_DirectoryRemoved(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "archive")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatal(err)
	}
	if err := fw.Start(root); err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	if err := os.Rename(dir, filepath.Join(root, "archive-old")); err != nil {
		t.Fatal(err)
	}

	ev := waitForEvent(t, fw, dir, OpDelete)
	if !ev.Dir {
		t.Error("Expected a directory event")
	}
}

func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{OpRename, "rename"},
		{EventOp(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
