package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
)

type permKey struct {
	userID string
	opID   int64
}

type opState struct {
	op            Operation
	revisions     []Revision
	messages      []Message
	nextMessageID int64
	lastCreatedAt time.Time
}

// MemoryStore keeps everything in process memory. Used in tests and when
// COLAB_STORE=memory.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	users       map[string]User
	ops         map[int64]*opState
	paths       map[string]int64
	permissions map[permKey]rbac.Level
	nextOpID    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		users:       map[string]User{},
		ops:         map[int64]*opState{},
		paths:       map[string]int64{},
		permissions: map[permKey]rbac.Level{},
	}
}

// SetClock replaces the time source; tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return User{}, apperr.Conflict("email %s already registered", user.Email)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, apperr.InvalidReference("user %s not found", id)
	}
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, apperr.InvalidReference("user %s not found", email)
}

func (s *MemoryStore) CreateOperation(_ context.Context, op Operation, creatorID string, r route.Route) (Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.paths[op.Path]; taken {
		return Operation{}, apperr.Conflict("operation path %q already exists", op.Path)
	}
	s.nextOpID++
	now := s.now().UTC()
	op.ID = s.nextOpID
	op.Revision = 1
	op.CreatedAt = now
	op.UpdatedAt = now
	s.ops[op.ID] = &opState{
		op:            op,
		revisions:     []Revision{{OpID: op.ID, Revision: 1, Route: r.Clone(), AuthorID: creatorID, CreatedAt: now}},
		nextMessageID: 1,
	}
	s.paths[op.Path] = op.ID
	s.permissions[permKey{creatorID, op.ID}] = rbac.LevelCreator
	return op, nil
}

func (s *MemoryStore) state(opID int64) (*opState, error) {
	st, ok := s.ops[opID]
	if !ok {
		return nil, apperr.InvalidReference("operation %d not found", opID)
	}
	return st, nil
}

func (s *MemoryStore) GetOperation(_ context.Context, id int64) (Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(id)
	if err != nil {
		return Operation{}, err
	}
	return st.op, nil
}

func (s *MemoryStore) ListOperationsForUser(_ context.Context, userID string) ([]OperationAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []OperationAccess{}
	for key, level := range s.permissions {
		if key.userID != userID {
			continue
		}
		if st, ok := s.ops[key.opID]; ok {
			out = append(out, OperationAccess{Operation: st.op, Level: level})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LatestRevision(_ context.Context, opID int64) (Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(opID)
	if err != nil {
		return Revision{}, err
	}
	rev := st.revisions[len(st.revisions)-1]
	rev.Route = rev.Route.Clone()
	return rev, nil
}

func (s *MemoryStore) AppendRevision(_ context.Context, opID int64, authorID string, r route.Route) (Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(opID)
	if err != nil {
		return Revision{}, err
	}
	now := s.now().UTC()
	rev := Revision{
		OpID:      opID,
		Revision:  st.op.Revision + 1,
		Route:     r.Clone(),
		AuthorID:  authorID,
		CreatedAt: now,
	}
	st.revisions = append(st.revisions, rev)
	st.op.Revision = rev.Revision
	st.op.UpdatedAt = now
	rev.Route = rev.Route.Clone()
	return rev, nil
}

func (s *MemoryStore) GetPermission(_ context.Context, userID string, opID int64) (rbac.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.state(opID); err != nil {
		return rbac.LevelNone, err
	}
	return s.permissions[permKey{userID, opID}], nil
}

func (s *MemoryStore) PutPermission(_ context.Context, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.state(p.OpID); err != nil {
		return err
	}
	if _, ok := s.users[p.UserID]; !ok {
		return apperr.InvalidReference("user %s not found", p.UserID)
	}
	if s.permissions[permKey{p.UserID, p.OpID}] == rbac.LevelCreator {
		return apperr.Conflict("creator access cannot be changed")
	}
	s.permissions[permKey{p.UserID, p.OpID}] = p.Level
	return nil
}

func (s *MemoryStore) DeletePermission(_ context.Context, userID string, opID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := permKey{userID, opID}
	level, ok := s.permissions[key]
	if !ok {
		return apperr.InvalidReference("user %s has no access to operation %d", userID, opID)
	}
	if level == rbac.LevelCreator {
		return apperr.Conflict("creator access cannot be revoked")
	}
	delete(s.permissions, key)
	return nil
}

func (s *MemoryStore) ListPermissions(_ context.Context, opID int64) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.state(opID); err != nil {
		return nil, err
	}
	out := []Permission{}
	for key, level := range s.permissions {
		if key.opID != opID {
			continue
		}
		out = append(out, Permission{UserID: key.userID, DisplayName: s.users[key.userID].DisplayName, OpID: opID, Level: level})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(msg.OpID)
	if err != nil {
		return Message{}, err
	}
	msg.ID = st.nextMessageID
	msg.CreatedAt = nextCreatedAt(s.now(), st.lastCreatedAt)
	msg.EditedAt = nil
	st.nextMessageID++
	st.lastCreatedAt = msg.CreatedAt
	st.messages = append(st.messages, msg)
	return msg, nil
}

func (s *MemoryStore) findMessage(st *opState, id int64) int {
	i := sort.Search(len(st.messages), func(i int) bool { return st.messages[i].ID >= id })
	if i < len(st.messages) && st.messages[i].ID == id {
		return i
	}
	return -1
}

func (s *MemoryStore) GetMessage(_ context.Context, opID, id int64) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(opID)
	if err != nil {
		return Message{}, err
	}
	i := s.findMessage(st, id)
	if i < 0 {
		return Message{}, apperr.InvalidReference("message %d not found", id)
	}
	return st.messages[i], nil
}

func (s *MemoryStore) UpdateMessageText(_ context.Context, opID, id int64, text string, editedAt time.Time) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(opID)
	if err != nil {
		return Message{}, err
	}
	i := s.findMessage(st, id)
	if i < 0 {
		return Message{}, apperr.InvalidReference("message %d not found", id)
	}
	at := editedAt.UTC()
	st.messages[i].Text = text
	st.messages[i].EditedAt = &at
	return st.messages[i], nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, opID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(opID)
	if err != nil {
		return err
	}
	i := s.findMessage(st, id)
	if i < 0 {
		return apperr.InvalidReference("message %d not found", id)
	}
	st.messages = append(st.messages[:i], st.messages[i+1:]...)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, opID int64, since time.Time) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(opID)
	if err != nil {
		return nil, err
	}
	out := []Message{}
	for _, msg := range st.messages {
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *MemoryStore) SearchMessages(_ context.Context, opID int64, query string, limit int) ([]MessageHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(opID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	out := []MessageHit{}
	if needle == "" {
		return out, nil
	}
	for _, msg := range st.messages {
		if strings.Contains(strings.ToLower(msg.Text), needle) {
			out = append(out, MessageHit{Message: msg, Snippet: msg.Text})
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
