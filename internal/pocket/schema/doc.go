// Package schema defines the records shared by the replica layers.
//
// # Items
//
// An Item is one saved entry from the remote list. It is keyed by its opaque
// item id and is always replaced wholesale when a newer remote snapshot
// arrives. Only two fields are interpreted by the core:
//
//   - URL, which joins an item to a local document through the URL index
//   - Tags, which the reconciler diffs against document tags
//
// Everything else (title, excerpt, timestamps) is carried through untouched,
// and the original JSON is kept in Payload.
//
// # Tags
//
// Tags are a set keyed by tag name. Each value repeats the name and the owning
// item id, mirroring the remote wire format:
//
//	"tags": {
//	  "golang": {"item_id": "229279689", "tag": "golang"}
//	}
//
// Normalize repairs records whose keys drifted from their values; Validate
// rejects them.
//
// # Actions
//
// An Action is a single tag mutation sent to the remote. Actions are never
// persisted; they live only between planning and submission.
package schema
