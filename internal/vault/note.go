package vault

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

const maxSlugLen = 80

// WriteItemNote creates a note for item in the notes folder and returns its
// ref. The note carries the item URL under the configured URL property, so
// the URL index resolves the item to it once indexed. Existing files are
// never overwritten; a numeric suffix keeps the name unique.
func (v *Vault) WriteItemNote(item *schema.Item) (string, error) {
	data, err := v.renderNote(item)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(v.root, filepath.FromSlash(v.notesFolder))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create notes folder: %w", err)
	}

	base := slugify(item.DisplayTitle())
	if base == "" {
		base = "pocket-" + item.ID
	}

	var ref string
	for n := 1; ; n++ {
		name := base + ".md"
		if n > 1 {
			name = fmt.Sprintf("%s-%d.md", base, n)
		}
		ref = path.Join(v.notesFolder, name)
		if _, err := os.Stat(v.Abs(ref)); os.IsNotExist(err) {
			break
		}
		if n > 1000 {
			return "", fmt.Errorf("no free note name for %q", base)
		}
	}

	// Write atomically via temp file
	target := v.Abs(ref)
	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	v.cache.Remove(ref)
	return ref, nil
}

func (v *Vault) renderNote(item *schema.Item) ([]byte, error) {
	front := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value interface{}) error {
		var val yaml.Node
		if err := val.Encode(value); err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		front.Content = append(front.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&val,
		)
		return nil
	}

	if err := add(v.urlProperty, item.URL); err != nil {
		return nil, err
	}
	if err := add("title", item.DisplayTitle()); err != nil {
		return nil, err
	}
	if names := item.Tags.Names(); len(names) > 0 {
		if err := add("tags", names); err != nil {
			return nil, err
		}
	}
	if err := add("pocket_id", item.ID); err != nil {
		return nil, err
	}
	if item.TimeAdded > 0 {
		if err := add("added", item.TimeAdded.Time().UTC().Format(time.DateOnly)); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(front); err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	buf.WriteString("---\n\n")
	fmt.Fprintf(&buf, "# %s\n\n", item.DisplayTitle())
	if item.Excerpt != "" {
		fmt.Fprintf(&buf, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(item.Excerpt), "\n", "\n> "))
	}
	fmt.Fprintf(&buf, "[Open in Pocket](https://getpocket.com/read/%s)\n", item.ID)
	return buf.Bytes(), nil
}

// slugify turns a title into a filesystem-safe file name.
func slugify(title string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
