package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Operation struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Revision    int64     `json:"revision"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// OperationAccess is an operation together with the caller's level on it.
type OperationAccess struct {
	Operation
	Level rbac.Level `json:"accessLevel"`
}

// Revision is an immutable snapshot of an operation's route.
type Revision struct {
	OpID      int64       `json:"opId"`
	Revision  int64       `json:"revision"`
	Route     route.Route `json:"route"`
	AuthorID  string      `json:"authorId"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Permission struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName,omitempty"`
	OpID        int64      `json:"opId"`
	Level       rbac.Level `json:"accessLevel"`
}

type MessageType int

const (
	MessageText MessageType = iota
	MessageSystem
	MessageImage
	MessageDocument
)

var messageTypeNames = map[MessageType]string{
	MessageText:     "text",
	MessageSystem:   "system",
	MessageImage:    "image",
	MessageDocument: "document",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// IsAttachment reports whether messages of this type carry a blob.
func (t MessageType) IsAttachment() bool {
	return t == MessageImage || t == MessageDocument
}

// ParseMessageType accepts either the name or the legacy numeric code.
func ParseMessageType(value string) (MessageType, error) {
	if n, err := strconv.Atoi(value); err == nil {
		t := MessageType(n)
		if !t.Valid() {
			return 0, fmt.Errorf("unknown message type %d", n)
		}
		return t, nil
	}
	for t, name := range messageTypeNames {
		if name == value {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", value)
}

func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *MessageType) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed, err := ParseMessageType(strconv.Itoa(n))
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message type: %w", err)
	}
	parsed, err := ParseMessageType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type Message struct {
	ID         int64       `json:"id"`
	OpID       int64       `json:"opId"`
	UserID     string      `json:"uId"`
	Username   string      `json:"username"`
	Text       string      `json:"text"`
	Type       MessageType `json:"messageType"`
	ReplyID    int64       `json:"replyId"`
	Attachment string      `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	EditedAt   *time.Time  `json:"editedAt,omitempty"`
}

// MessageHit is one full-text search match.
type MessageHit struct {
	Message
	Snippet string `json:"snippet"`
}
