// Package search finds chat messages of an operation. Meilisearch is used
// while it is healthy; the store's full-text search covers the rest.
package search

import (
	"context"
	"strconv"
	"time"

	"mscolab/api/internal/store"
)

const DefaultLimit = 20

// Query describes a search request. Results never leave OpID.
type Query struct {
	OpID  int64
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []store.MessageHit `json:"results"`
	Query   string             `json:"query"`
	Engine  string             `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]store.MessageHit, error)
	Healthy() bool
}

// Indexer keeps an external index in step with the messages table.
type Indexer interface {
	IndexMessages(records []MessageRecord) error
	DeleteMessage(id string) error
}

// Engine is an external index that can both search and be written to.
type Engine interface {
	Searcher
	Indexer
}

// MessageRecord is the data we index for a chat message.
type MessageRecord struct {
	ID        string `json:"id"`
	MessageID int64  `json:"messageId"`
	OpID      int64  `json:"opId"`
	UserID    string `json:"uId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Type      int    `json:"messageType"`
	ReplyID   int64  `json:"replyId"`
	CreatedAt int64  `json:"createdAt"`
}

// RecordID is the index key of a message; message ids are only unique
// within their operation.
func RecordID(opID, messageID int64) string {
	return strconv.FormatInt(opID, 10) + "-" + strconv.FormatInt(messageID, 10)
}

func RecordFromMessage(m store.Message) MessageRecord {
	return MessageRecord{
		ID:        RecordID(m.OpID, m.ID),
		MessageID: m.ID,
		OpID:      m.OpID,
		UserID:    m.UserID,
		Username:  m.Username,
		Text:      m.Text,
		Type:      int(m.Type),
		ReplyID:   m.ReplyID,
		CreatedAt: m.CreatedAt.UnixMicro(),
	}
}

func (r MessageRecord) message() store.Message {
	return store.Message{
		ID:        r.MessageID,
		OpID:      r.OpID,
		UserID:    r.UserID,
		Username:  r.Username,
		Text:      r.Text,
		Type:      store.MessageType(r.Type),
		ReplyID:   r.ReplyID,
		CreatedAt: time.UnixMicro(r.CreatedAt).UTC(),
	}
}
