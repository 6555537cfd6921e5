package validate

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	var fields []string
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	sort.Strings(fields)
	return fields
}

func TestItem(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name       string
		payload    string
		wantFields []string
	}{
		{"valid root item", `{"id":"i1","title":"X","icon":"a","folderId":null,"order":5}`, nil},
		{"valid nested item", `{"id":"i1","title":"X","icon":"a","folderId":"f1","order":0}`, nil},
		{"integral float order", `{"id":"i1","title":"X","icon":"a","folderId":null,"order":3.0}`, nil},
		{"missing title", `{"id":"i1","icon":"a","folderId":null,"order":0}`, []string{"title"}},
		{"empty title", `{"id":"i1","title":"","icon":"a","folderId":null,"order":0}`, []string{"title"}},
		{"empty id", `{"id":"","title":"X","icon":"a","folderId":null,"order":0}`, []string{"id"}},
		{"negative order", `{"id":"i1","title":"X","icon":"a","folderId":null,"order":-1}`, []string{"order"}},
		{"fractional order", `{"id":"i1","title":"X","icon":"a","folderId":null,"order":1.5}`, []string{"order"}},
		{"numeric folder", `{"id":"i1","title":"X","icon":"a","folderId":7,"order":0}`, []string{"folderId"}},
		{"several problems", `{"id":"i1","title":"","icon":"","folderId":null}`, []string{"icon", "order", "title"}},
		{"not an object", `[1,2]`, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := v.Item(json.RawMessage(tt.payload))
			if tt.wantFields == nil {
				require.NoError(t, err)
				require.Equal(t, "i1", item.ID)
				return
			}
			require.Error(t, err)
			require.Equal(t, tt.wantFields, fieldsOf(t, err))
		})
	}
}

func TestItem_DecodesFields(t *testing.T) {
	v := MustNew()
	item, err := v.Item(json.RawMessage(`{"id":"i1","title":"Mail","icon":"✉","folderId":"f1","order":3,"iconUrl":"https://x"}`))
	require.NoError(t, err)
	require.Equal(t, "Mail", item.Title)
	require.Equal(t, 3, item.Order)
	require.NotNil(t, item.FolderID)
	require.Equal(t, "f1", *item.FolderID)
	require.Empty(t, item.IconURL, "client-supplied iconUrl is dropped")
}

func TestFolder(t *testing.T) {
	v := MustNew()

	folder, err := v.Folder(json.RawMessage(`{"id":"f1","name":"Work","isOpen":true,"order":0,"items":[{"id":"bogus"}]}`))
	require.NoError(t, err)
	require.Equal(t, schema.Folder{ID: "f1", Name: "Work", IsOpen: true, Order: 0}, folder)

	_, err = v.Folder(json.RawMessage(`{"id":"f1","name":"Work","isOpen":"yes","order":0}`))
	require.Equal(t, []string{"isOpen"}, fieldsOf(t, err))

	_, err = v.Folder(json.RawMessage(`{"id":"f1","isOpen":false,"order":0}`))
	require.Equal(t, []string{"name"}, fieldsOf(t, err))
}

func TestItems_RejectsWholeBatch(t *testing.T) {
	v := MustNew()
	payload := `[
		{"id":"i1","title":"A","icon":"a","folderId":null,"order":0},
		{"id":"i2","title":"B","icon":"b","folderId":null,"order":-4}
	]`
	items, err := v.Items(json.RawMessage(payload))
	require.Nil(t, items)
	require.Equal(t, []string{"1/order"}, fieldsOf(t, err))
}

func TestItems_DuplicateIDs(t *testing.T) {
	v := MustNew()
	payload := `[
		{"id":"i1","title":"A","icon":"a","folderId":null,"order":0},
		{"id":"i1","title":"B","icon":"b","folderId":null,"order":1}
	]`
	_, err := v.Items(json.RawMessage(payload))
	require.Equal(t, []string{"1/id"}, fieldsOf(t, err))
}

func TestItems_Empty(t *testing.T) {
	v := MustNew()
	items, err := v.Items(json.RawMessage(`[]`))
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = v.Items(nil)
	require.Error(t, err)
}

func TestFolders(t *testing.T) {
	v := MustNew()
	folders, err := v.Folders(json.RawMessage(`[{"id":"f1","name":"A","isOpen":false,"order":1},{"id":"f2","name":"B","isOpen":true,"order":0}]`))
	require.NoError(t, err)
	require.Len(t, folders, 2)
	require.True(t, folders[1].IsOpen)

	_, err = v.Folders(json.RawMessage(`{"id":"f1"}`))
	require.Error(t, err)
}

func TestAddItem_Discriminates(t *testing.T) {
	v := MustNew()

	intent, err := v.AddItem(json.RawMessage(`"i9"`))
	require.NoError(t, err)
	require.Equal(t, AddItemByID{ID: "i9"}, intent)

	intent, err = v.AddItem(json.RawMessage(` {"id":"i1","title":"X","icon":"a","folderId":null,"order":0}`))
	require.NoError(t, err)
	full, ok := intent.(AddItemFull)
	require.True(t, ok)
	require.Equal(t, "i1", full.Item.ID)

	for _, bad := range []string{`""`, `42`, `null`, `[]`, ``} {
		_, err := v.AddItem(json.RawMessage(bad))
		require.Equal(t, schema.CategoryValidation, schema.CategoryOf(err), "payload %q", bad)
	}
}

func TestFrame(t *testing.T) {
	v := MustNew()

	intent, err := v.Frame([]byte(`{"type":"updateFolders","data":[{"id":"f1","name":"A","isOpen":true,"order":0}]}`))
	require.NoError(t, err)
	require.Equal(t, schema.EventUpdateFolders, intent.Event())

	_, err = v.Frame([]byte(`{"type":"deleteItem","data":"i1"}`))
	require.Equal(t, []string{"type"}, fieldsOf(t, err))

	_, err = v.Frame([]byte(`{"type":"addFolder"}`))
	require.Equal(t, []string{"data"}, fieldsOf(t, err))

	_, err = v.Frame([]byte(`not json`))
	require.Equal(t, schema.CategoryValidation, schema.CategoryOf(err))
}

func TestCheckItem(t *testing.T) {
	v := MustNew()
	require.NoError(t, v.CheckItem(schema.Item{ID: "i1", Title: "A", Icon: "asset:icons/a.png", IconURL: "https://signed"}))
	require.Error(t, v.CheckItem(schema.Item{ID: "i1", Icon: "a"}))
	require.NoError(t, v.CheckFolder(schema.Folder{ID: "f1", Name: "A"}))
	require.Error(t, v.CheckFolder(schema.Folder{ID: "f1"}))
}
