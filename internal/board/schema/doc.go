// Package schema defines the board data model shared by the store, the
// synchronization engine, the live channel and the Go client.
//
// # Collections
//
// A board holds two ordered collections:
//
//   - Items: draggable entries (icon + title). An item lives at the root of
//     the board when FolderID is nil, otherwise inside the referenced folder.
//   - Folders: collapsible containers. All folders share a single top-level
//     sibling group.
//
// Order values are scoped to a sibling group: all items sharing one FolderID,
// or all folders. After a successful reorder the values of a group form a
// dense 0-based sequence.
//
// # Wire format
//
// Every live-channel frame is an Envelope:
//
//	{
//	  "type": "updateState",
//	  "timestamp": "2026-10-19T08:12:03Z",
//	  "data": {"items": [...], "revision": 42}
//	}
//
// Client intents use the types addItem, addFolder, updateItems and
// updateFolders. The server answers with updateState, newItem, error and a
// one-time hello frame carrying the session id.
//
// # Errors
//
// Failures are reported with one of five typed errors (ValidationError,
// ConflictError, NotFoundError, PersistenceError, AssetError). CategoryOf maps
// any wrapped error back to its category.
package schema
