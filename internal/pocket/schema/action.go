package schema

import "fmt"

// ActionKind is the type of a tag mutation.
type ActionKind int

const (
	// ActionTagsAdd adds a tag to an item.
	ActionTagsAdd ActionKind = iota
	// ActionTagsRemove removes a tag from an item.
	ActionTagsRemove
)

// String returns the remote action name.
func (k ActionKind) String() string {
	switch k {
	case ActionTagsAdd:
		return "tags_add"
	case ActionTagsRemove:
		return "tags_remove"
	default:
		return "unknown"
	}
}

// ParseActionKind converts a remote action name to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch s {
	case "tags_add":
		return ActionTagsAdd, nil
	case "tags_remove":
		return ActionTagsRemove, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// Action is a single pending tag mutation. It is produced by the reconciler
// and consumed immediately by the remote client.
type Action struct {
	Kind   ActionKind
	ItemID string
	Tag    string
}

// String formats the action for logs, e.g. "tags_add(123, golang)".
func (a Action) String() string {
	return fmt.Sprintf("%s(%s, %s)", a.Kind, a.ItemID, a.Tag)
}

// Apply performs the action on a tag set in place.
func (a Action) Apply(tags Tags) {
	switch a.Kind {
	case ActionTagsAdd:
		tags.Add(a.ItemID, a.Tag)
	case ActionTagsRemove:
		tags.Remove(a.Tag)
	}
}
