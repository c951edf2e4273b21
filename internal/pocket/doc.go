// Package pocket is the root of the local Pocket replica.
//
// Overview
//
// pocketsync keeps a local copy of a user's Pocket list in SQLite, indexes a
// notes vault by URL, and pushes tag changes made in notes back to Pocket.
//
//	Pocket API ──fetch since cursor──▶ sync.Engine ──▶ db (items, cursor)
//	                                                       ▲
//	vault (*.md, *.html) ──events/rebuild──▶ index ──▶ db (url_index)
//	                                                       │
//	reconcile.Reconciler ◀──items + index + note tags──────┘
//	        │
//	        └──tags_add / tags_remove──▶ Pocket API
//
// Subpackages
//
//   - schema: Item, Tag, Action and Status types shared by every layer
//   - db: durable stores opened once per process
//   - index: URL to document index maintenance
//   - sync: incremental fetch and merge
//   - reconcile: tag diff and upload
//   - notes: bulk creation of item notes
//   - daemon: vault watcher and periodic sync
//   - dashboard: HTTP/WebSocket status server
//   - migrate: JSONL export and import of items
//
// The errors declared here are shared by all subpackages so that callers can
// branch on them with errors.Is regardless of which layer produced them.
package pocket
