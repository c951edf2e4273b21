// Package migrate moves stored items in and out of JSON Lines files, one
// item per line, for backups and for seeding a new replica.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// Lister reads every stored item.
type Lister interface {
	AllItems(ctx context.Context) ([]*schema.Item, error)
}

// Merger writes a batch of items atomically.
type Merger interface {
	MergeUpdates(ctx context.Context, batch schema.ItemMap) error
}

// ExportOptions contains configuration for an export
type ExportOptions struct {
	Path   string // Output JSONL file path
	Backup bool   // Keep a copy of an existing output file
}

// ExportResult contains statistics about an export
type ExportResult struct {
	ItemsWritten  int
	BackupCreated string
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	Path   string // Input JSONL file path
	DryRun bool   // Parse and validate without writing
}

// ImportResult contains statistics about an import
type ImportResult struct {
	ItemsRead     int
	ItemsImported int
	Errors        []string
}

// Export writes every stored item to opts.Path, replacing the file
// atomically.
func Export(ctx context.Context, store Lister, opts ExportOptions) (*ExportResult, error) {
	result := &ExportResult{}

	items, err := store.AllItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	if opts.Backup {
		backup, err := backupFile(opts.Path)
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backup
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Write atomically via temp file
	tmpPath := opts.Path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := ToJSONL(w, items); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, opts.Path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}

	result.ItemsWritten = len(items)
	return result, nil
}

// ToJSONL encodes items one per line.
func ToJSONL(w io.Writer, items []*schema.Item) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to encode item %s: %w", item.ID, err)
		}
	}
	return nil
}

// FromJSONL decodes items from r. Records that fail validation are
// reported in the returned messages and left out of the batch; a later
// record with the same id replaces an earlier one. Malformed JSON is a
// hard error.
func FromJSONL(r io.Reader) (schema.ItemMap, int, []string, error) {
	batch := make(schema.ItemMap)
	var problems []string

	decoder := json.NewDecoder(r)
	read := 0
	for {
		var item schema.Item
		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, read, problems, fmt.Errorf("invalid JSON at record %d: %w", read+1, err)
		}
		read++

		item.Normalize()
		if err := item.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("record %d: %v", read, err))
			continue
		}
		batch[item.ID] = &item
	}

	return batch, read, problems, nil
}

// Import reads opts.Path and merges its items into the store in a single
// batch.
func Import(ctx context.Context, store Merger, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	batch, read, problems, err := FromJSONL(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	result := &ImportResult{ItemsRead: read, Errors: problems}
	if opts.DryRun {
		result.ItemsImported = len(batch)
		return result, nil
	}

	if err := store.MergeUpdates(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to merge imported items: %w", err)
	}
	result.ItemsImported = len(batch)
	return result, nil
}

// backupFile copies path aside with a timestamp suffix. A missing file
// needs no backup and returns "".
func backupFile(path string) (string, error) {
	// #nosec G304 - controlled path from CLI
	input, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file for backup: %w", err)
	}
	backupPath := path + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}
