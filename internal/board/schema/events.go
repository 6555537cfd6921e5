package schema

import (
	"encoding/json"
	"time"
)

// EventType names a live-channel frame.
type EventType string

const (
	// Client to server intents.
	EventAddItem       EventType = "addItem"
	EventAddFolder     EventType = "addFolder"
	EventUpdateItems   EventType = "updateItems"
	EventUpdateFolders EventType = "updateFolders"

	// Server to client notifications.
	EventUpdateState EventType = "updateState"
	EventNewItem     EventType = "newItem"
	EventError       EventType = "error"
	EventHello       EventType = "hello"
)

// IsIntent reports whether t is a client-originated mutation intent.
func (t EventType) IsIntent() bool {
	switch t {
	case EventAddItem, EventAddFolder, EventUpdateItems, EventUpdateFolders:
		return true
	}
	return false
}

// Envelope is a single live-channel frame.
type Envelope struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ EventType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Timestamp: time.Now().UTC(), Data: data}, nil
}

// StateUpdate is the updateState payload. Only the collection that changed
// is present.
type StateUpdate struct {
	Items    *[]Item   `json:"items,omitempty"`
	Folders  *[]Folder `json:"folders,omitempty"`
	Revision int64     `json:"revision"`
}

// ItemsUpdate builds an updateState payload carrying the item collection.
func ItemsUpdate(items []Item, revision int64) StateUpdate {
	if items == nil {
		items = []Item{}
	}
	return StateUpdate{Items: &items, Revision: revision}
}

// FoldersUpdate builds an updateState payload carrying the folder collection.
func FoldersUpdate(folders []Folder, revision int64) StateUpdate {
	if folders == nil {
		folders = []Folder{}
	}
	return StateUpdate{Folders: &folders, Revision: revision}
}

// NewItemEvent is the newItem payload.
type NewItemEvent struct {
	NewItem Item `json:"newItem"`
}

// ErrorEvent is the error payload.
type ErrorEvent struct {
	Message  string   `json:"message"`
	Category Category `json:"category,omitempty"`
}

// HelloEvent is sent once to every session right after it connects.
type HelloEvent struct {
	SessionID string `json:"sessionId"`
}
