package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/pocketsync/internal/vault"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was moved away from Path. The new name,
	// if it stays inside the vault, arrives as a separate OpCreate.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileEvent represents a file system event below the vault root.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
	// Dir is set when a watched directory was removed or moved away; the
	// documents below it are not reported individually.
	Dir bool
}

// FileWatcher watches a vault directory tree for document changes.
// Subdirectories created while running are watched as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
	dirs    map[string]bool
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dirs:    make(map[string]bool),
	}, nil
}

// Start begins watching root and every non-hidden directory below it.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve vault root: %w", err)
	}
	fw.root = abs

	if _, err := fw.addTree(abs); err != nil {
		for dir := range fw.dirs {
			_ = fw.watcher.Remove(dir)
		}
		fw.dirs = make(map[string]bool)
		return fmt.Errorf("failed to watch vault %s: %w", root, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the watcher unblocks the event loop
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Root returns the absolute path being watched.
func (fw *FileWatcher) Root() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.root
}

// addTree watches dir and its subdirectories and returns the documents
// found below them. Callers hold fw.mu.
func (fw *FileWatcher) addTree(dir string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree may change under us; skip what vanished.
			if os.IsNotExist(err) && p != dir {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if fw.dirs[p] {
				return nil
			}
			if err := fw.watcher.Add(p); err != nil {
				return err
			}
			fw.dirs[p] = true
			return nil
		}
		if vault.IsDocument(p) {
			docs = append(docs, p)
		}
		return nil
	})
	return docs, err
}

// processEvents is the main event loop that processes fsnotify events
// and converts them to FileEvent notifications.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			for _, fileEvent := range fw.convertEvent(event) {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to zero or more FileEvents.
// A new directory is watched and any documents already inside it are
// reported as created.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) []FileEvent {
	if isHidden(fw.root, event.Name) {
		return nil
	}

	fw.mu.Lock()
	wasDir := fw.dirs[event.Name]
	fw.mu.Unlock()

	if wasDir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		fw.mu.Lock()
		for dir := range fw.dirs {
			if dir == event.Name || strings.HasPrefix(dir, event.Name+string(filepath.Separator)) {
				delete(fw.dirs, dir)
			}
		}
		fw.mu.Unlock()
		return []FileEvent{{Path: event.Name, Op: OpDelete, Dir: true}}
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			fw.mu.Lock()
			docs, err := fw.addTree(event.Name)
			fw.mu.Unlock()
			if err != nil {
				select {
				case fw.errors <- fmt.Errorf("failed to watch %s: %w", event.Name, err):
				default:
				}
			}
			out := make([]FileEvent, 0, len(docs))
			for _, p := range docs {
				out = append(out, FileEvent{Path: p, Op: OpCreate})
			}
			return out
		}
	}

	if !vault.IsDocument(event.Name) {
		return nil
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// Ignore chmod and other events
		return nil
	}

	return []FileEvent{{Path: event.Name, Op: op}}
}

// isHidden reports whether p lies in a hidden directory or is a hidden
// file below root.
func isHidden(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
