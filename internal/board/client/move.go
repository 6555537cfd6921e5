package client

import (
	"fmt"
	"sort"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// MoveItem moves item id into folderID (nil for the root) at position index
// among its new siblings, and returns a copy of items with dense 0-based
// orders in both the source and target sibling groups. The result is what a
// drag-and-drop client submits with UpdateItems. index is clamped.
func MoveItem(items []schema.Item, id string, folderID *string, index int) ([]schema.Item, error) {
	out := schema.CloneItems(items)
	moved := -1
	for i := range out {
		if out[i].ID == id {
			moved = i
			break
		}
	}
	if moved < 0 {
		return nil, fmt.Errorf("item %s not found", id)
	}

	from := out[moved].Group()
	out[moved].FolderID = nil
	if folderID != nil {
		out[moved].FolderID = schema.FolderRef(*folderID)
	}
	to := out[moved].Group()

	siblings := func(group string) []int {
		var idx []int
		for i := range out {
			if i != moved && out[i].Group() == group {
				idx = append(idx, i)
			}
		}
		sort.SliceStable(idx, func(a, b int) bool {
			x, y := out[idx[a]], out[idx[b]]
			if x.Order != y.Order {
				return x.Order < y.Order
			}
			return x.ID < y.ID
		})
		return idx
	}

	target := insertAt(siblings(to), moved, index)
	for order, i := range target {
		out[i].Order = order
	}
	if from != to {
		for order, i := range siblings(from) {
			out[i].Order = order
		}
	}
	return out, nil
}

// MoveFolder moves folder id to position index and returns a copy of folders
// with dense 0-based orders. index is clamped.
func MoveFolder(folders []schema.Folder, id string, index int) ([]schema.Folder, error) {
	out := schema.CloneFolders(folders)
	moved := -1
	var rest []int
	for i := range out {
		if out[i].ID == id {
			moved = i
			continue
		}
		rest = append(rest, i)
	}
	if moved < 0 {
		return nil, fmt.Errorf("folder %s not found", id)
	}

	sort.SliceStable(rest, func(a, b int) bool {
		x, y := out[rest[a]], out[rest[b]]
		if x.Order != y.Order {
			return x.Order < y.Order
		}
		return x.ID < y.ID
	})
	for order, i := range insertAt(rest, moved, index) {
		out[i].Order = order
	}
	return out, nil
}

func insertAt(idx []int, v, at int) []int {
	if at < 0 {
		at = 0
	}
	if at > len(idx) {
		at = len(idx)
	}
	out := make([]int, 0, len(idx)+1)
	out = append(out, idx[:at]...)
	out = append(out, v)
	return append(out, idx[at:]...)
}
