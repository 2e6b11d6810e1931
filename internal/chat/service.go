// Package chat is the per-operation message stream: text posts, edits,
// deletes, attachments and history catch-up.
package chat

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/blob"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/logging"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/search"
	"mscolab/api/internal/store"
	"mscolab/api/internal/util"
)

const DefaultMaxUploadBytes = 10 << 20

// Access answers whether the actor may act on the operation.
type Access interface {
	Authorize(ctx context.Context, actor operation.Actor, opID int64, action rbac.Action) (rbac.Level, error)
}

type Rooms interface {
	Broadcast(ctx context.Context, opID int64, ev hub.Event, exclude ...string)
}

// Index mirrors messages into the search engine.
type Index interface {
	IndexMessage(msg store.Message)
	RemoveMessage(opID, messageID int64)
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

type Service struct {
	store     store.Store
	access    Access
	rooms     Rooms
	blobs     blob.Store
	index     Index
	logger    logging.Logger
	locks     util.KeyedMutex[int64]
	now       func() time.Time
	maxUpload int64
}

func NewService(st store.Store, access Access, rooms Rooms, blobs blob.Store, index Index, logger logging.Logger) *Service {
	return &Service{
		store:     st,
		access:    access,
		rooms:     rooms,
		blobs:     blobs,
		index:     index,
		logger:    logging.OrNop(logger),
		now:       time.Now,
		maxUpload: DefaultMaxUploadBytes,
	}
}

// SetMaxUploadBytes bounds attachment sizes. Non-positive keeps the default.
func (s *Service) SetMaxUploadBytes(n int64) {
	if n > 0 {
		s.maxUpload = n
	}
}

func (s *Service) MaxUploadBytes() int64 {
	return s.maxUpload
}

type PostInput struct {
	OpID    int64             `json:"opId"`
	Text    string            `json:"text"`
	ReplyID int64             `json:"replyId"`
	Type    store.MessageType `json:"messageType"`
}

type AttachInput struct {
	OpID        int64
	Type        store.MessageType
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Edited is the payload of message-edited.
type Edited struct {
	OpID     int64     `json:"opId"`
	ID       int64     `json:"id"`
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// Deleted is the payload of message-deleted.
type Deleted struct {
	OpID int64 `json:"opId"`
	ID   int64 `json:"id"`
}

// Post appends a text message and broadcasts it to the whole room,
// including the author's own sessions.
func (s *Service) Post(ctx context.Context, actor operation.Actor, in PostInput) (store.Message, error) {
	if _, err := s.access.Authorize(ctx, actor, in.OpID, rbac.ActionChat); err != nil {
		return store.Message{}, err
	}
	if in.Type != store.MessageText {
		return store.Message{}, apperr.MalformedInput("message type %s must be posted as an attachment", in.Type)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return store.Message{}, apperr.MalformedInput("message text is required")
	}
	replyID := in.ReplyID
	if replyID < 0 {
		replyID = 0
	}

	unlock := s.locks.Lock(in.OpID)
	defer unlock()

	if replyID > 0 {
		if _, err := s.store.GetMessage(ctx, in.OpID, replyID); err != nil {
			return store.Message{}, err
		}
	}
	msg, err := s.store.AppendMessage(ctx, store.Message{
		OpID:     in.OpID,
		UserID:   actor.UserID,
		Username: actor.Username,
		Text:     text,
		Type:     store.MessageText,
		ReplyID:  replyID,
	})
	if err != nil {
		return store.Message{}, err
	}
	s.created(ctx, msg)
	return msg, nil
}

// Edit replaces the text of a message. Only its author or an admin of the
// operation may edit it.
func (s *Service) Edit(ctx context.Context, actor operation.Actor, opID, messageID int64, text string) (store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Message{}, apperr.MalformedInput("message text is required")
	}

	unlock := s.locks.Lock(opID)
	defer unlock()

	if _, err := s.authorize(ctx, actor, opID, messageID); err != nil {
		return store.Message{}, err
	}
	msg, err := s.store.UpdateMessageText(ctx, opID, messageID, text, s.now())
	if err != nil {
		return store.Message{}, err
	}
	if s.rooms != nil {
		s.rooms.Broadcast(ctx, opID, hub.MustEvent(hub.EventMessageEdited, opID, Edited{
			OpID:     opID,
			ID:       msg.ID,
			Text:     msg.Text,
			EditedAt: *msg.EditedAt,
		}))
	}
	if s.index != nil {
		s.index.IndexMessage(msg)
	}
	return msg, nil
}

// Delete removes a message for good. Replies keep pointing at its id.
func (s *Service) Delete(ctx context.Context, actor operation.Actor, opID, messageID int64) error {
	unlock := s.locks.Lock(opID)
	defer unlock()

	msg, err := s.authorize(ctx, actor, opID, messageID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, opID, messageID); err != nil {
		return err
	}
	if s.rooms != nil {
		s.rooms.Broadcast(ctx, opID, hub.MustEvent(hub.EventMessageDeleted, opID, Deleted{OpID: opID, ID: messageID}))
	}
	if s.index != nil {
		s.index.RemoveMessage(opID, messageID)
	}
	if msg.Attachment != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, msg.Attachment); err != nil {
			s.logger.Warn("delete attachment blob", "op", opID, "message", messageID, "key", msg.Attachment, "error", err)
		}
	}
	return nil
}

// List returns messages created strictly after since, in id order. The
// zero time yields the full history.
func (s *Service) List(ctx context.Context, actor operation.Actor, opID int64, since time.Time) ([]store.Message, error) {
	if _, err := s.access.Authorize(ctx, actor, opID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, opID, since)
}

// Attach stores the upload and then the message that references it. A
// message is never visible without its blob.
func (s *Service) Attach(ctx context.Context, actor operation.Actor, in AttachInput) (store.Message, error) {
	if _, err := s.access.Authorize(ctx, actor, in.OpID, rbac.ActionChat); err != nil {
		return store.Message{}, err
	}
	if !in.Type.IsAttachment() {
		return store.Message{}, apperr.MalformedInput("message type %s cannot carry an attachment", in.Type)
	}
	if in.Body == nil {
		return store.Message{}, apperr.MalformedInput("attachment file is required")
	}
	if in.Size > s.maxUpload {
		return store.Message{}, apperr.MalformedInput("attachment exceeds %d bytes", s.maxUpload)
	}
	if s.blobs == nil {
		return store.Message{}, apperr.New(apperr.KindStoreUnavailable, "attachment storage is not configured")
	}
	name := filepath.Base(strings.TrimSpace(in.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}

	key := AttachmentKey(in.OpID, name)
	if err := s.blobs.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
		return store.Message{}, err
	}

	unlock := s.locks.Lock(in.OpID)
	defer unlock()

	msg, err := s.store.AppendMessage(ctx, store.Message{
		OpID:       in.OpID,
		UserID:     actor.UserID,
		Username:   actor.Username,
		Text:       name,
		Type:       in.Type,
		Attachment: key,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Error("remove orphaned attachment", "key", key, "error", delErr)
		}
		return store.Message{}, err
	}
	s.created(ctx, msg)
	return msg, nil
}

// OpenAttachment streams a stored attachment to a viewer of its operation.
func (s *Service) OpenAttachment(ctx context.Context, actor operation.Actor, key string) (io.ReadCloser, blob.Info, error) {
	opID, err := OperationOfKey(key)
	if err != nil {
		return nil, blob.Info{}, err
	}
	if _, err := s.access.Authorize(ctx, actor, opID, rbac.ActionRead); err != nil {
		return nil, blob.Info{}, err
	}
	if s.blobs == nil {
		return nil, blob.Info{}, apperr.InvalidReference("attachment %s not found", key)
	}
	return s.blobs.Get(ctx, key)
}

func (s *Service) Search(ctx context.Context, actor operation.Actor, opID int64, query string, limit int) (search.Response, error) {
	if _, err := s.access.Authorize(ctx, actor, opID, rbac.ActionChat); err != nil {
		return search.Response{}, err
	}
	if s.index == nil {
		return search.Response{Results: []store.MessageHit{}, Query: query}, nil
	}
	return s.index.Search(ctx, search.Query{OpID: opID, Text: query, Limit: limit})
}

// authorize loads the message and checks the actor may change it.
func (s *Service) authorize(ctx context.Context, actor operation.Actor, opID, messageID int64) (store.Message, error) {
	level, err := s.access.Authorize(ctx, actor, opID, rbac.ActionChat)
	if err != nil {
		return store.Message{}, err
	}
	msg, err := s.store.GetMessage(ctx, opID, messageID)
	if err != nil {
		return store.Message{}, err
	}
	if msg.UserID != actor.UserID && !rbac.Can(level, rbac.ActionModerate) {
		return store.Message{}, apperr.PermissionDenied("only the author or an admin may change message %d", messageID)
	}
	return msg, nil
}

func (s *Service) created(ctx context.Context, msg store.Message) {
	if s.rooms != nil {
		s.rooms.Broadcast(ctx, msg.OpID, hub.MustEvent(hub.EventMessageCreated, msg.OpID, msg))
	}
	if s.index != nil {
		s.index.IndexMessage(msg)
	}
}

// AttachmentKey names a new blob of the operation: "<opID>/<ulid><ext>".
func AttachmentKey(opID int64, filename string) string {
	return fmt.Sprintf("%d/%s%s", opID, util.NewID(""), cleanExt(filename))
}

// OperationOfKey recovers the operation id from an attachment key.
func OperationOfKey(key string) (int64, error) {
	if err := blob.ValidKey(key); err != nil {
		return 0, err
	}
	prefix, rest, ok := strings.Cut(key, "/")
	if !ok || rest == "" {
		return 0, apperr.MalformedInput("invalid attachment key %q", key)
	}
	opID, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || opID <= 0 {
		return 0, apperr.MalformedInput("invalid attachment key %q", key)
	}
	return opID, nil
}

func cleanExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
