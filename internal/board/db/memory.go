package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// Memory is an in-process Store. It applies the same rules as the SQL
// backends, including the folder reference check, and is used by tests and
// the load generator.
type Memory struct {
	mu       sync.RWMutex
	items    map[string]schema.Item
	folders  map[string]schema.Folder
	revision int64
	closed   bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:   make(map[string]schema.Item),
		folders: make(map[string]schema.Folder),
	}
}

var errClosed = fmt.Errorf("store is closed")

func (m *Memory) CreateItem(ctx context.Context, item schema.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return schema.Persistence("create item", errClosed)
	}
	if _, ok := m.items[item.ID]; ok {
		return &schema.ConflictError{Kind: "item", ID: item.ID}
	}
	if err := m.checkFolderRef(item); err != nil {
		return schema.Persistence("create item", err)
	}
	item.IconURL = ""
	m.items[item.ID] = cloneItem(item)
	m.revision++
	return nil
}

func (m *Memory) CreateFolder(ctx context.Context, folder schema.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return schema.Persistence("create folder", errClosed)
	}
	if _, ok := m.folders[folder.ID]; ok {
		return &schema.ConflictError{Kind: "folder", ID: folder.ID}
	}
	folder.Items = nil
	m.folders[folder.ID] = folder
	m.revision++
	return nil
}

func (m *Memory) ListItems(ctx context.Context) ([]schema.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, schema.Persistence("list items", errClosed)
	}
	items := make([]schema.Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, cloneItem(item))
	}
	sortItems(items)
	return items, nil
}

func (m *Memory) ListFoldersWithItems(ctx context.Context) ([]schema.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, schema.Persistence("list folders", errClosed)
	}
	children := make(map[string][]schema.Item)
	for _, item := range m.items {
		if item.FolderID != nil {
			children[*item.FolderID] = append(children[*item.FolderID], cloneItem(item))
		}
	}
	folders := make([]schema.Folder, 0, len(m.folders))
	for _, folder := range m.folders {
		folder.Items = children[folder.ID]
		if folder.Items == nil {
			folder.Items = []schema.Item{}
		}
		sortItems(folder.Items)
		folders = append(folders, folder)
	}
	sort.Slice(folders, func(a, b int) bool {
		if folders[a].Order != folders[b].Order {
			return folders[a].Order < folders[b].Order
		}
		return folders[a].ID < folders[b].ID
	})
	return folders, nil
}

func (m *Memory) GetItem(ctx context.Context, id string) (schema.Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return schema.Item{}, false, schema.Persistence("get item", errClosed)
	}
	item, ok := m.items[id]
	return cloneItem(item), ok, nil
}

func (m *Memory) UpsertItems(ctx context.Context, items []schema.Item, opts UpsertOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return schema.Persistence("upsert items", errClosed)
	}

	// Stage every change first so a failure leaves the store untouched.
	staged := make(map[string]schema.Item, len(items))
	groups := make(map[string]bool)
	submitted := make(map[string]bool, len(items))
	for _, item := range items {
		if err := m.checkFolderRef(item); err != nil {
			return schema.Persistence("upsert items", err)
		}
		if prev, ok := m.items[item.ID]; ok {
			groups[prev.Group()] = true
		}
		groups[item.Group()] = true
		submitted[item.ID] = true
		item.IconURL = ""
		staged[item.ID] = cloneItem(item)
	}
	for id, item := range staged {
		m.items[id] = item
	}

	if opts.Renumber {
		var touched []schema.Item
		for _, item := range m.items {
			if groups[item.Group()] {
				touched = append(touched, item)
			}
		}
		for _, item := range schema.DenseItems(touched, submitted) {
			m.items[item.ID] = item
		}
	}
	m.revision++
	return nil
}

func (m *Memory) UpsertFolders(ctx context.Context, folders []schema.Folder, opts UpsertOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return schema.Persistence("upsert folders", errClosed)
	}

	submitted := make(map[string]bool, len(folders))
	for _, folder := range folders {
		folder.Items = nil
		m.folders[folder.ID] = folder
		submitted[folder.ID] = true
	}

	if opts.Renumber && len(folders) > 0 {
		all := make([]schema.Folder, 0, len(m.folders))
		for _, folder := range m.folders {
			all = append(all, folder)
		}
		for _, folder := range schema.DenseFolders(all, submitted) {
			m.folders[folder.ID] = folder
		}
	}
	m.revision++
	return nil
}

func (m *Memory) MissingFolders(ctx context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, schema.Persistence("check folders", errClosed)
	}
	var missing []string
	for _, id := range uniqueStrings(ids) {
		if _, ok := m.folders[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *Memory) Revision(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// checkFolderRef mirrors the items.folder_id foreign key.
func (m *Memory) checkFolderRef(item schema.Item) error {
	if item.FolderID == nil {
		return nil
	}
	if _, ok := m.folders[*item.FolderID]; !ok {
		return fmt.Errorf("item %s references unknown folder %s", item.ID, *item.FolderID)
	}
	return nil
}

func cloneItem(item schema.Item) schema.Item {
	if item.FolderID != nil {
		item.FolderID = schema.FolderRef(*item.FolderID)
	}
	return item
}

func sortItems(items []schema.Item) {
	sort.Slice(items, func(a, b int) bool {
		if items[a].Order != items[b].Order {
			return items[a].Order < items[b].Order
		}
		return items[a].ID < items[b].ID
	})
}
