package schema

import "strings"

// AssetPrefix marks an Item icon that references an object in the asset
// store rather than an inline glyph or an absolute URL.
const AssetPrefix = "asset:"

// RootGroup is the sibling-group key of items that are not inside a folder.
const RootGroup = ""

// Item is a single draggable entry on the board.
type Item struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Icon     string  `json:"icon"`
	FolderID *string `json:"folderId"`
	Order    int     `json:"order"`

	// IconURL is resolved by the server for asset icons and never persisted.
	IconURL string `json:"iconUrl,omitempty"`
}

// Group returns the sibling-group key of the item.
func (i Item) Group() string {
	if i.FolderID == nil {
		return RootGroup
	}
	return *i.FolderID
}

// AssetKey returns the asset-store key referenced by the icon, if any.
func (i Item) AssetKey() (string, bool) {
	if !strings.HasPrefix(i.Icon, AssetPrefix) {
		return "", false
	}
	key := strings.TrimPrefix(i.Icon, AssetPrefix)
	return key, key != ""
}

// Folder is an ordered, collapsible container of items.
type Folder struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsOpen bool   `json:"isOpen"`
	Order  int    `json:"order"`

	// Items is derived from the item collection on reads and ignored on writes.
	Items []Item `json:"items"`
}

// State is the complete canonical board as served to bootstrapping sessions.
type State struct {
	Items    []Item   `json:"items"`
	Folders  []Folder `json:"folders"`
	Revision int64    `json:"revision"`
}

// AssetRef builds the icon value stored for an uploaded asset.
func AssetRef(key string) string {
	return AssetPrefix + key
}

// FolderRef returns a pointer to id, or nil for the root group.
func FolderRef(id string) *string {
	if id == RootGroup {
		return nil
	}
	return &id
}

// CloneItems returns a deep copy of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, item := range items {
		if item.FolderID != nil {
			item.FolderID = FolderRef(*item.FolderID)
		}
		out[i] = item
	}
	return out
}

// CloneFolders returns a deep copy of folders, including nested items.
func CloneFolders(folders []Folder) []Folder {
	if folders == nil {
		return nil
	}
	out := make([]Folder, len(folders))
	for i, folder := range folders {
		folder.Items = CloneItems(folder.Items)
		out[i] = folder
	}
	return out
}
