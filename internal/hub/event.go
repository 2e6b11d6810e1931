package hub

import (
	"encoding/json"
	"fmt"
)

// Outbound event names.
const (
	EventConnected         = "connected"
	EventJoined            = "joined"
	EventLeft              = "left"
	EventMessageCreated    = "message-created"
	EventMessageEdited     = "message-edited"
	EventMessageDeleted    = "message-deleted"
	EventDocumentUpdated   = "document-updated"
	EventPermissionGranted = "permission-granted"
	EventPermissionRevoked = "permission-revoked"
	EventOperationRevoked  = "operation-revoked"
)

// Event is a server-push frame.
type Event struct {
	Name string          `json:"event"`
	OpID int64           `json:"opId,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, opID int64, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, OpID: opID, Data: data}, nil
}

// MustEvent is NewEvent for payloads that always marshal.
func MustEvent(name string, opID int64, payload any) Event {
	ev, err := NewEvent(name, opID, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

func (e Event) frame() ([]byte, error) {
	return json.Marshal(e)
}

// Presence is the payload of joined and left.
type Presence struct {
	OpID     int64  `json:"opId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// Access is the payload of permission events.
type Access struct {
	OpID   int64  `json:"opId"`
	UserID string `json:"userId"`
	Level  string `json:"accessLevel,omitempty"`
}

type envelopeKind string

const (
	kindRoom   envelopeKind = "room"
	kindGrant  envelopeKind = "grant"
	kindRevoke envelopeKind = "revoke"
)

// Envelope is what travels over a Bus between hub instances.
type Envelope struct {
	Kind    envelopeKind `json:"kind"`
	OpID    int64        `json:"opId"`
	UserID  string       `json:"userId,omitempty"`
	Level   string       `json:"level,omitempty"`
	Event   Event        `json:"event"`
	Exclude []string     `json:"exclude,omitempty"`
}
