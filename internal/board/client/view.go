package client

import (
	"sync"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// View is a client's local copy of the board. Snapshots replace whole
// collections and are gated by revision per collection, so re-applying the
// same or an older snapshot never moves the view backwards.
type View struct {
	mu sync.RWMutex

	items   []schema.Item
	folders []schema.Folder

	itemsRev   int64
	foldersRev int64
	loaded     bool
}

// NewView returns an empty view.
func NewView() *View {
	return &View{
		items:      []schema.Item{},
		folders:    []schema.Folder{},
		itemsRev:   -1,
		foldersRev: -1,
	}
}

// ApplyState applies a bootstrap fetch. It reports whether either collection
// was replaced.
func (v *View) ApplyState(state schema.State) bool {
	items, folders := state.Items, state.Folders
	return v.ApplyUpdate(schema.StateUpdate{Items: &items, Folders: &folders, Revision: state.Revision})
}

// ApplyUpdate applies an updateState payload. A collection is replaced when
// the update carries it at a revision no older than the one already held.
func (v *View) ApplyUpdate(update schema.StateUpdate) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	changed := false
	if update.Items != nil && update.Revision >= v.itemsRev {
		v.items = nonNilItems(schema.CloneItems(*update.Items))
		v.itemsRev = update.Revision
		changed = true
	}
	if update.Folders != nil && update.Revision >= v.foldersRev {
		v.folders = schema.CloneFolders(*update.Folders)
		if v.folders == nil {
			v.folders = []schema.Folder{}
		}
		v.foldersRev = update.Revision
		changed = true
	}
	if changed {
		v.loaded = true
	}
	return changed
}

// ApplyNewItem adds an announced item, replacing any local copy with the
// same id. The next items snapshot supersedes it.
func (v *View) ApplyNewItem(item schema.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()

	clone := schema.CloneItems([]schema.Item{item})[0]
	for i := range v.items {
		if v.items[i].ID == item.ID {
			v.items[i] = clone
			return
		}
	}
	v.items = append(v.items, clone)
}

// Items returns a copy of the item collection.
func (v *View) Items() []schema.Item {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return nonNilItems(schema.CloneItems(v.items))
}

// Folders returns a copy of the folder collection.
func (v *View) Folders() []schema.Folder {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := schema.CloneFolders(v.folders)
	if out == nil {
		out = []schema.Folder{}
	}
	return out
}

// Revisions returns the revision each collection was last replaced at, or -1
// when it has not been loaded.
func (v *View) Revisions() (items, folders int64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.itemsRev, v.foldersRev
}

// Loaded reports whether any snapshot has been applied.
func (v *View) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

func nonNilItems(items []schema.Item) []schema.Item {
	if items == nil {
		return []schema.Item{}
	}
	return items
}
