package validate

import (
	"bytes"
	"encoding/json"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// Intent is a validated client mutation. The concrete types below form a
// closed union; Validator.Intent is the only place that builds them.
type Intent interface {
	Event() schema.EventType
}

// AddItemFull creates the item carried in the payload.
type AddItemFull struct {
	Item schema.Item
}

// AddItemByID announces an item whose row was already written by the upload
// endpoint.
type AddItemByID struct {
	ID string
}

// AddFolder creates one folder.
type AddFolder struct {
	Folder schema.Folder
}

// UpdateItems upserts a batch of items in one transaction.
type UpdateItems struct {
	Items []schema.Item
}

// UpdateFolders upserts a batch of folders in one transaction.
type UpdateFolders struct {
	Folders []schema.Folder
}

func (AddItemFull) Event() schema.EventType   { return schema.EventAddItem }
func (AddItemByID) Event() schema.EventType   { return schema.EventAddItem }
func (AddFolder) Event() schema.EventType     { return schema.EventAddFolder }
func (UpdateItems) Event() schema.EventType   { return schema.EventUpdateItems }
func (UpdateFolders) Event() schema.EventType { return schema.EventUpdateFolders }

// Intent validates the payload of env against the shape its type requires.
func (v *Validator) Intent(env schema.Envelope) (Intent, error) {
	switch env.Type {
	case schema.EventAddItem:
		return v.AddItem(env.Data)
	case schema.EventAddFolder:
		folder, err := v.Folder(env.Data)
		if err != nil {
			return nil, err
		}
		return AddFolder{Folder: folder}, nil
	case schema.EventUpdateItems:
		items, err := v.Items(env.Data)
		if err != nil {
			return nil, err
		}
		return UpdateItems{Items: items}, nil
	case schema.EventUpdateFolders:
		folders, err := v.Folders(env.Data)
		if err != nil {
			return nil, err
		}
		return UpdateFolders{Folders: folders}, nil
	default:
		return nil, schema.NewValidationError("type", "unsupported event %q", env.Type)
	}
}

// AddItem discriminates the two addItem shapes: a JSON string is a bare item
// id, a JSON object is a full item.
func (v *Validator) AddItem(raw json.RawMessage) (Intent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, schema.NewValidationError("", "payload is required")
	}
	switch trimmed[0] {
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return nil, schema.NewValidationError("id", "malformed id: %v", err)
		}
		if id == "" {
			return nil, schema.NewValidationError("id", "must not be empty")
		}
		return AddItemByID{ID: id}, nil
	case '{':
		item, err := v.Item(trimmed)
		if err != nil {
			return nil, err
		}
		return AddItemFull{Item: item}, nil
	default:
		return nil, schema.NewValidationError("", "must be an item object or an item id string")
	}
}

// Frame decodes a raw frame and validates its intent in one step.
func (v *Validator) Frame(frame []byte) (Intent, error) {
	env, err := v.Envelope(frame)
	if err != nil {
		return nil, err
	}
	return v.Intent(env)
}
