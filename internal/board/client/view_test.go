package client

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

func ids(items []schema.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestView_RevisionGating(t *testing.T) {
	v := NewView()
	require.False(t, v.Loaded())
	require.Empty(t, v.Items())
	require.Empty(t, v.Folders())

	require.True(t, v.ApplyState(schema.State{
		Items:    []schema.Item{{ID: "a"}},
		Folders:  []schema.Folder{{ID: "f1"}},
		Revision: 5,
	}))
	require.True(t, v.Loaded())

	// Older snapshots are ignored, per collection.
	require.False(t, v.ApplyUpdate(schema.ItemsUpdate([]schema.Item{{ID: "stale"}}, 4)))
	require.Equal(t, []string{"a"}, ids(v.Items()))

	// Re-applying the same snapshot is harmless.
	require.True(t, v.ApplyUpdate(schema.ItemsUpdate([]schema.Item{{ID: "a"}}, 5)))
	require.Equal(t, []string{"a"}, ids(v.Items()))

	require.True(t, v.ApplyUpdate(schema.ItemsUpdate([]schema.Item{{ID: "a"}, {ID: "b"}}, 7)))
	require.Equal(t, []string{"a", "b"}, ids(v.Items()))

	// A folders update at 6 is newer than the folders collection (5) even
	// though items are already at 7.
	require.True(t, v.ApplyUpdate(schema.FoldersUpdate([]schema.Folder{{ID: "f2"}}, 6)))
	require.Equal(t, "f2", v.Folders()[0].ID)

	itemsRev, foldersRev := v.Revisions()
	require.EqualValues(t, 7, itemsRev)
	require.EqualValues(t, 6, foldersRev)
}

func TestView_ApplyNewItem(t *testing.T) {
	v := NewView()
	v.ApplyState(schema.State{Items: []schema.Item{{ID: "a", Title: "A"}}, Revision: 1})

	v.ApplyNewItem(schema.Item{ID: "b", Title: "B", IconURL: "https://assets.test/b"})
	v.ApplyNewItem(schema.Item{ID: "a", Title: "A2"})

	items := v.Items()
	require.Equal(t, []string{"a", "b"}, ids(items))
	require.Equal(t, "A2", items[0].Title)
	require.Equal(t, "https://assets.test/b", items[1].IconURL)
}

func TestView_ReturnsCopies(t *testing.T) {
	v := NewView()
	v.ApplyState(schema.State{
		Items:    []schema.Item{{ID: "a", FolderID: schema.FolderRef("f1")}},
		Folders:  []schema.Folder{{ID: "f1", Items: []schema.Item{{ID: "a"}}}},
		Revision: 1,
	})

	items := v.Items()
	*items[0].FolderID = "changed"
	folders := v.Folders()
	folders[0].Items[0].ID = "changed"

	require.Equal(t, "f1", v.Items()[0].Group())
	require.Equal(t, "a", v.Folders()[0].Items[0].ID)
}

func TestMoveItem(t *testing.T) {
	items := []schema.Item{
		{ID: "a", Order: 0},
		{ID: "b", Order: 1},
		{ID: "c", Order: 2},
		{ID: "x", FolderID: schema.FolderRef("f1"), Order: 0},
		{ID: "y", FolderID: schema.FolderRef("f1"), Order: 1},
	}

	tests := []struct {
		name   string
		id     string
		folder *string
		index  int
		want   map[string]string // id -> group:order
	}{
		{
			name: "reorder within root", id: "c", index: 0,
			want: map[string]string{"c": ":0", "a": ":1", "b": ":2", "x": "f1:0", "y": "f1:1"},
		},
		{
			name: "into folder", id: "b", folder: schema.FolderRef("f1"), index: 1,
			want: map[string]string{"a": ":0", "c": ":1", "x": "f1:0", "b": "f1:1", "y": "f1:2"},
		},
		{
			name: "out of folder, clamped", id: "x", index: 99,
			want: map[string]string{"a": ":0", "b": ":1", "c": ":2", "x": ":3", "y": "f1:0"},
		},
		{
			name: "negative index", id: "y", folder: schema.FolderRef("f1"), index: -3,
			want: map[string]string{"a": ":0", "b": ":1", "c": ":2", "y": "f1:0", "x": "f1:1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MoveItem(items, tt.id, tt.folder, tt.index)
			require.NoError(t, err)
			got := make(map[string]string)
			for _, item := range out {
				got[item.ID] = item.Group() + ":" + strconv.Itoa(item.Order)
			}
			require.Equal(t, tt.want, got)
		})
	}

	// The input is untouched.
	require.Equal(t, 2, items[2].Order)
	require.Equal(t, "f1", items[3].Group())

	_, err := MoveItem(items, "nope", nil, 0)
	require.Error(t, err)
}

func TestMoveFolder(t *testing.T) {
	folders := []schema.Folder{{ID: "f1", Order: 0}, {ID: "f2", Order: 1}, {ID: "f3", Order: 5}}

	out, err := MoveFolder(folders, "f3", 1)
	require.NoError(t, err)
	orders := map[string]int{}
	for _, f := range out {
		orders[f.ID] = f.Order
	}
	require.Equal(t, map[string]int{"f1": 0, "f3": 1, "f2": 2}, orders)
	require.Equal(t, 5, folders[2].Order)

	_, err = MoveFolder(folders, "nope", 0)
	require.Error(t, err)
}
