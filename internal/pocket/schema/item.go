package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the remote lifecycle flag of an item.
type Status int

const (
	// StatusNormal is an unread item in the list.
	StatusNormal Status = iota
	// StatusArchived is an item that has been archived.
	StatusArchived
	// StatusDeleted is an item the remote reports as deleted.
	StatusDeleted
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusArchived:
		return "archived"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// WireValue returns the remote encoding of the status ("0", "1", "2").
func (s Status) WireValue() string {
	return fmt.Sprintf("%d", int(s))
}

// ParseStatus accepts either the remote wire value ("0", "1", "2") or the
// human-readable name returned by String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "", "normal", "unread":
		return StatusNormal, nil
	case "1", "archived":
		return StatusArchived, nil
	case "2", "deleted":
		return StatusDeleted, nil
	default:
		return 0, fmt.Errorf("unknown item status %q", s)
	}
}

// Timestamp is a point in time on the remote server clock, in seconds since
// the epoch. It is the unit of the sync cursor.
type Timestamp int64

// Time converts the timestamp to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts), 0)
}

// String formats the timestamp for logs.
func (ts Timestamp) String() string {
	return ts.Time().UTC().Format(time.RFC3339)
}

// Tag is one tag record attached to an item.
type Tag struct {
	ItemID string `json:"item_id"`
	Name   string `json:"tag"`
}

// Tags is the set of tags on an item, keyed by tag name.
type Tags map[string]Tag

// NewTags builds a tag set for itemID from plain names.
func NewTags(itemID string, names ...string) Tags {
	tags := make(Tags, len(names))
	for _, name := range names {
		tags.Add(itemID, name)
	}
	return tags
}

// Has reports whether the set contains name.
func (t Tags) Has(name string) bool {
	_, ok := t[name]
	return ok
}

// Add inserts name, overwriting any existing record for it.
func (t Tags) Add(itemID, name string) {
	t[name] = Tag{ItemID: itemID, Name: name}
}

// Remove deletes name from the set. Removing an absent tag is a no-op.
func (t Tags) Remove(name string) {
	delete(t, name)
}

// Names returns the tag names in sorted order.
func (t Tags) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the set.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// UnmarshalJSON accepts both the object form used by the remote and the
// empty array it sends for items without tags.
func (t *Tags) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "[]" {
		*t = Tags{}
		return nil
	}
	var m map[string]Tag
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse tags: %w", err)
	}
	*t = Tags(m)
	return nil
}

// Item is one remote saved-item record cached locally.
type Item struct {
	// ID is the opaque, stable item identifier.
	ID string `json:"item_id"`

	// URL is the URL as saved by the user (given_url).
	URL string `json:"given_url"`
	// ResolvedURL is the URL after redirects, when the remote resolved one.
	ResolvedURL string `json:"resolved_url,omitempty"`

	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`

	Status   Status `json:"status"`
	Favorite bool   `json:"favorite,omitempty"`

	Tags Tags `json:"tags"`

	TimeAdded   Timestamp `json:"time_added,omitempty"`
	TimeUpdated Timestamp `json:"time_updated,omitempty"`
	TimeRead    Timestamp `json:"time_read,omitempty"`
	WordCount   int       `json:"word_count,omitempty"`

	// Payload is the original remote JSON for this record. It is stored
	// verbatim and never interpreted.
	Payload json.RawMessage `json:"-"`
}

// Validate checks that the item can be stored.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item_id is required")
	}
	if i.URL == "" && i.Status != StatusDeleted {
		return fmt.Errorf("item %s: given_url is required", i.ID)
	}
	if i.Status < StatusNormal || i.Status > StatusDeleted {
		return fmt.Errorf("item %s: invalid status %d", i.ID, int(i.Status))
	}
	for key, tag := range i.Tags {
		if key != tag.Name {
			return fmt.Errorf("item %s: tag key %q does not match tag name %q", i.ID, key, tag.Name)
		}
		if tag.Name == "" {
			return fmt.Errorf("item %s: empty tag name", i.ID)
		}
	}
	return nil
}

// Normalize rewrites the tag set so that every key equals its record's name
// and every record points at this item. Nil tags become an empty set.
func (i *Item) Normalize() {
	tags := make(Tags, len(i.Tags))
	for key, tag := range i.Tags {
		name := tag.Name
		if name == "" {
			name = key
		}
		if name == "" {
			continue
		}
		tags.Add(i.ID, name)
	}
	i.Tags = tags
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	out := *i
	out.Tags = i.Tags.Clone()
	if i.Payload != nil {
		out.Payload = append(json.RawMessage(nil), i.Payload...)
	}
	return &out
}

// DisplayTitle returns the title, falling back to the URL.
func (i *Item) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	if i.ResolvedURL != "" {
		return i.ResolvedURL
	}
	return i.URL
}

// URLs returns the distinct URLs the item can be matched by: the saved URL
// first, then the resolved URL if it differs.
func (i *Item) URLs() []string {
	urls := make([]string, 0, 2)
	if i.URL != "" {
		urls = append(urls, i.URL)
	}
	if i.ResolvedURL != "" && i.ResolvedURL != i.URL {
		urls = append(urls, i.ResolvedURL)
	}
	return urls
}

// ItemMap is a batch of items keyed by item id.
type ItemMap map[string]*Item

// IDs returns the item ids in sorted order.
func (m ItemMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
