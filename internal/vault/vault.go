// Package vault reads and writes the local notes folder.
//
// A vault is a directory tree of Markdown notes (with YAML "---" or TOML
// "+++" frontmatter) and saved HTML clippings. Documents are addressed by a
// Ref: their slash-separated path relative to the vault root. The vault
// extracts the two properties the replica cares about, the document's URL
// and its tags, and caches parsed documents keyed by path until the file's
// size or modification time changes.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
)

// DefaultURLProperty is the frontmatter key holding a note's URL.
const DefaultURLProperty = "url"

// DefaultCacheSize is the number of parsed documents kept in memory.
const DefaultCacheSize = 1024

// FolderTag maps every document below Folder to an extra Tag.
type FolderTag struct {
	Folder string `mapstructure:"folder" yaml:"folder" validate:"required"`
	Tag    string `mapstructure:"tag" yaml:"tag" validate:"required"`
}

// Config configures a Vault.
type Config struct {
	// Root is the vault directory.
	Root string
	// URLProperty is the frontmatter key holding the URL (default "url").
	URLProperty string
	// FolderTags adds tags to documents by folder.
	FolderTags []FolderTag
	// NotesFolder is where WriteItemNote creates notes, relative to Root.
	NotesFolder string
	// CacheSize bounds the parsed-document cache (default 1024).
	CacheSize int
	// Logger (default stderr with [vault] prefix).
	Logger *log.Logger
}

// Document is the parsed view of one vault file.
type Document struct {
	Ref     string
	ModTime time.Time
	Size    int64
	// URL is the raw URL property, empty when absent.
	URL   string
	Title string
	// Tags are the document's own tags, without folder tags.
	Tags []string
}

// Vault gives access to documents below a root directory.
type Vault struct {
	root        string
	urlProperty string
	folderTags  []FolderTag
	notesFolder string
	cache       *lru.Cache[string, *Document]
	logger      *log.Logger
}

// New creates a Vault. The root directory must exist.
func New(cfg Config) (*Vault, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("vault root: %w", pocket.ErrNotConfigured)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", root)
	}

	if cfg.URLProperty == "" {
		cfg.URLProperty = DefaultURLProperty
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[vault] ", log.LstdFlags)
	}

	cache, err := lru.New[string, *Document](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}

	folderTags := make([]FolderTag, 0, len(cfg.FolderTags))
	for _, ft := range cfg.FolderTags {
		folder := strings.Trim(filepath.ToSlash(ft.Folder), "/")
		tag := NormalizeTag(ft.Tag)
		if folder == "" || tag == "" {
			continue
		}
		folderTags = append(folderTags, FolderTag{Folder: folder, Tag: tag})
	}

	return &Vault{
		root:        root,
		urlProperty: cfg.URLProperty,
		folderTags:  folderTags,
		notesFolder: strings.Trim(filepath.ToSlash(cfg.NotesFolder), "/"),
		cache:       cache,
		logger:      cfg.Logger,
	}, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string {
	return v.root
}

// IsDocument reports whether path names a file the vault understands.
func IsDocument(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown", ".html", ".htm":
		return true
	}
	return false
}

func isHTML(ref string) bool {
	ext := strings.ToLower(path.Ext(ref))
	return ext == ".html" || ext == ".htm"
}

// Abs converts a ref to an absolute filesystem path.
func (v *Vault) Abs(ref string) string {
	return filepath.Join(v.root, filepath.FromSlash(ref))
}

// Rel converts a filesystem path below the root to a ref.
func (v *Vault) Rel(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", p, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the vault", p)
	}
	return filepath.ToSlash(rel), nil
}

// Stat returns file info for ref, or pocket.ErrNotFound if it is gone.
func (v *Vault) Stat(ref string) (os.FileInfo, error) {
	info, err := os.Stat(v.Abs(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("document %s: %w", ref, pocket.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("document %s is a directory", ref)
	}
	return info, nil
}

// Exists reports whether ref is an existing document.
func (v *Vault) Exists(ref string) bool {
	_, err := v.Stat(ref)
	return err == nil
}

// Load parses ref, reusing the cached parse when the file is unchanged.
// Returns pocket.ErrNotFound if the document does not exist.
func (v *Vault) Load(ref string) (*Document, error) {
	info, err := v.Stat(ref)
	if err != nil {
		v.cache.Remove(ref)
		return nil, err
	}

	if doc, ok := v.cache.Get(ref); ok && doc.ModTime.Equal(info.ModTime()) && doc.Size == info.Size() {
		return doc, nil
	}

	// #nosec G304 - path is constrained to the vault root
	data, err := os.ReadFile(v.Abs(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	doc := &Document{
		Ref:     ref,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}
	if isHTML(ref) {
		err = parseHTML(data, doc)
	} else {
		err = v.parseMarkdown(data, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ref, err)
	}

	v.cache.Add(ref, doc)
	return doc, nil
}

// Forget drops any cached parse of ref.
func (v *Vault) Forget(ref string) {
	v.cache.Remove(ref)
}

// ExtractURL returns the document's URL property. ok is false when the
// document has none.
func (v *Vault) ExtractURL(ref string) (url string, ok bool, err error) {
	doc, err := v.Load(ref)
	if err != nil {
		return "", false, err
	}
	return doc.URL, doc.URL != "", nil
}

// ExtractTags returns the document's effective tag set: its own tags plus
// tags implied by folder mappings, sorted and without duplicates.
func (v *Vault) ExtractTags(ref string) ([]string, error) {
	doc, err := v.Load(ref)
	if err != nil {
		return nil, err
	}
	tags := append([]string(nil), doc.Tags...)
	tags = append(tags, v.FolderTagsFor(ref)...)
	return dedupe(tags), nil
}

// FolderTagsFor returns the tags mapped to ref's folders.
func (v *Vault) FolderTagsFor(ref string) []string {
	var tags []string
	for _, ft := range v.folderTags {
		if strings.HasPrefix(ref, ft.Folder+"/") {
			tags = append(tags, ft.Tag)
		}
	}
	return tags
}

// Walk calls fn with the ref of every document in the vault, in lexical
// order. Hidden directories (".git", ".obsidian") are skipped.
func (v *Vault) Walk(ctx context.Context, fn func(ref string) error) error {
	return filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != v.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsDocument(p) {
			return nil
		}
		ref, err := v.Rel(p)
		if err != nil {
			return err
		}
		return fn(ref)
	})
}

// NormalizeTag strips a leading '#' and surrounding space.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
}

func dedupe(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = NormalizeTag(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
