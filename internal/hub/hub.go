package hub

import (
	"context"
	"sort"
	"sync"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/logging"
	"mscolab/api/internal/rbac"
)

// Oracle answers which access level a user holds on an operation.
type Oracle interface {
	AccessLevel(ctx context.Context, userID string, opID int64) (rbac.Level, error)
}

// Hub owns the operation rooms of this instance. Room traffic is published
// on the Bus and delivered by every instance to its own members.
type Hub struct {
	registry *Registry
	oracle   Oracle
	bus      Bus
	logger   logging.Logger

	mu     sync.Mutex
	rooms  map[int64]map[string]*Session
	joined map[string]map[int64]struct{}
}

func New(oracle Oracle, bus Bus, logger logging.Logger) *Hub {
	if bus == nil {
		bus = NewLocalBus()
	}
	h := &Hub{
		registry: NewRegistry(),
		oracle:   oracle,
		bus:      bus,
		logger:   logging.OrNop(logger),
		rooms:    map[int64]map[string]*Session{},
		joined:   map[string]map[int64]struct{}{},
	}
	bus.Subscribe(h.dispatch)
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Connect(s *Session) {
	h.registry.Register(s)
	h.logger.Debug("session connected", "session", s.ID, "user", s.UserID)
}

// Disconnect releases every membership of the session, stops delivery to
// it and emits left where the user has no other session in a room.
func (h *Hub) Disconnect(ctx context.Context, sessionID string) {
	s, ok := h.registry.Session(sessionID)
	if !ok {
		return
	}
	s.Close()

	h.mu.Lock()
	var departed []int64
	for opID := range h.joined[sessionID] {
		if h.removeLocked(s, opID) {
			departed = append(departed, opID)
		}
	}
	delete(h.joined, sessionID)
	h.mu.Unlock()

	h.registry.Unregister(sessionID)
	sort.Slice(departed, func(i, j int) bool { return departed[i] < departed[j] })
	for _, opID := range departed {
		h.publishPresence(ctx, EventLeft, opID, s)
	}
	h.logger.Debug("session disconnected", "session", sessionID, "user", s.UserID)
}

// CloseAll closes every live session on this instance. Transports notice
// through Done and finish the disconnect themselves.
func (h *Hub) CloseAll() int {
	sessions := h.registry.All()
	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}

// Join adds the session to the operation room after consulting the oracle.
func (h *Hub) Join(ctx context.Context, s *Session, opID int64) (rbac.Level, error) {
	level, err := h.oracle.AccessLevel(ctx, s.UserID, opID)
	if err != nil {
		return rbac.LevelNone, err
	}
	if !rbac.Valid(level) {
		return rbac.LevelNone, apperr.PermissionDenied("no access to operation %d", opID)
	}

	// Disconnect closes the session before taking mu, so checking under mu
	// keeps a departed session out of the room.
	h.mu.Lock()
	if s.Closed() {
		h.mu.Unlock()
		return level, nil
	}
	first := h.addLocked(s, opID)
	h.mu.Unlock()

	if first {
		h.publishPresence(ctx, EventJoined, opID, s)
	}
	return level, nil
}

// Leave removes the session from the room. It reports whether the session
// was a member.
func (h *Hub) Leave(ctx context.Context, sessionID string, opID int64) bool {
	s, ok := h.registry.Session(sessionID)
	if !ok {
		return false
	}
	h.mu.Lock()
	_, member := h.joined[sessionID][opID]
	last := member && h.removeLocked(s, opID)
	h.mu.Unlock()

	if last {
		h.publishPresence(ctx, EventLeft, opID, s)
	}
	return member
}

// Broadcast publishes ev to every member of the room except the excluded
// sessions. Delivery is fire-and-forget.
func (h *Hub) Broadcast(ctx context.Context, opID int64, ev Event, exclude ...string) {
	ev.OpID = opID
	h.publish(ctx, Envelope{Kind: kindRoom, OpID: opID, Event: ev, Exclude: exclude})
}

// Granted propagates a committed grant: the grantee's live sessions are
// joined and the room is told.
func (h *Hub) Granted(ctx context.Context, opID int64, userID string, level rbac.Level) {
	ev := MustEvent(EventPermissionGranted, opID, Access{OpID: opID, UserID: userID, Level: string(level)})
	h.publish(ctx, Envelope{Kind: kindGrant, OpID: opID, UserID: userID, Level: string(level), Event: ev})
}

// Revoked propagates a committed revoke: the grantee's sessions are told
// and removed from the room.
func (h *Hub) Revoked(ctx context.Context, opID int64, userID string) {
	ev := MustEvent(EventPermissionRevoked, opID, Access{OpID: opID, UserID: userID})
	h.publish(ctx, Envelope{Kind: kindRevoke, OpID: opID, UserID: userID, Event: ev})
}

// Membership lists the users with a session in the room on this instance.
func (h *Hub) Membership(opID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := map[string]struct{}{}
	for _, s := range h.rooms[opID] {
		seen[s.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for userID := range seen {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// JoinedOps lists the rooms the session is a member of.
func (h *Hub) JoinedOps(sessionID string) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, 0, len(h.joined[sessionID]))
	for opID := range h.joined[sessionID] {
		out = append(out, opID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send delivers ev to one session only.
func (h *Hub) Send(s *Session, ev Event) bool {
	frame, err := ev.frame()
	if err != nil {
		h.logger.Error("encode event", "event", ev.Name, "error", err)
		return false
	}
	return h.deliver(s, frame, ev.Name)
}

func (h *Hub) publish(ctx context.Context, env Envelope) {
	if err := h.bus.Publish(ctx, env); err != nil {
		h.logger.Error("publish room event", "op", env.OpID, "event", env.Event.Name, "error", err)
	}
}

func (h *Hub) publishPresence(ctx context.Context, name string, opID int64, s *Session) {
	ev := MustEvent(name, opID, Presence{OpID: opID, UserID: s.UserID, Username: s.Username})
	h.publish(ctx, Envelope{Kind: kindRoom, OpID: opID, Event: ev})
}

// addLocked reports whether s is the user's first session in the room.
func (h *Hub) addLocked(s *Session, opID int64) bool {
	room := h.rooms[opID]
	if room == nil {
		room = map[string]*Session{}
		h.rooms[opID] = room
	}
	if _, ok := room[s.ID]; ok {
		return false
	}
	first := true
	for _, other := range room {
		if other.UserID == s.UserID {
			first = false
			break
		}
	}
	room[s.ID] = s
	if h.joined[s.ID] == nil {
		h.joined[s.ID] = map[int64]struct{}{}
	}
	h.joined[s.ID][opID] = struct{}{}
	return first
}

// removeLocked reports whether s was the user's last session in the room.
func (h *Hub) removeLocked(s *Session, opID int64) bool {
	room := h.rooms[opID]
	if _, ok := room[s.ID]; !ok {
		return false
	}
	delete(room, s.ID)
	delete(h.joined[s.ID], opID)
	if len(room) == 0 {
		delete(h.rooms, opID)
	}
	for _, other := range room {
		if other.UserID == s.UserID {
			return false
		}
	}
	return true
}

func (h *Hub) dispatch(env Envelope) {
	switch env.Kind {
	case kindRoom:
		h.deliverRoom(env.OpID, env.Event, env.Exclude)
	case kindGrant:
		// Every instance tells its own members, so presence for a grant
		// is delivered locally rather than published again.
		presence := Presence{OpID: env.OpID, UserID: env.UserID}
		present := false
		h.mu.Lock()
		for _, s := range h.rooms[env.OpID] {
			if s.UserID == env.UserID {
				present = true
				break
			}
		}
		for _, s := range h.registry.SessionsOf(env.UserID) {
			if s.Closed() {
				continue
			}
			presence.Username = s.Username
			h.addLocked(s, env.OpID)
		}
		h.mu.Unlock()
		h.deliverRoom(env.OpID, env.Event, nil)
		if !present {
			h.deliverRoom(env.OpID, MustEvent(EventJoined, env.OpID, presence), nil)
		}
	case kindRevoke:
		revoked := MustEvent(EventOperationRevoked, env.OpID, Access{OpID: env.OpID, UserID: env.UserID})
		presence := Presence{OpID: env.OpID, UserID: env.UserID}
		h.mu.Lock()
		for _, s := range h.rooms[env.OpID] {
			if s.UserID != env.UserID {
				continue
			}
			if frame, err := revoked.frame(); err == nil {
				h.deliver(s, frame, revoked.Name)
			}
			presence.Username = s.Username
			h.removeLocked(s, env.OpID)
		}
		h.mu.Unlock()
		h.deliverRoom(env.OpID, env.Event, nil)
		h.deliverRoom(env.OpID, MustEvent(EventLeft, env.OpID, presence), nil)
	default:
		h.logger.Warn("unknown envelope kind", "kind", env.Kind)
	}
}

func (h *Hub) deliverRoom(opID int64, ev Event, exclude []string) {
	frame, err := ev.frame()
	if err != nil {
		h.logger.Error("encode event", "event", ev.Name, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.rooms[opID] {
		if contains(exclude, id) {
			continue
		}
		h.deliver(s, frame, ev.Name)
	}
}

func (h *Hub) deliver(s *Session, frame []byte, name string) bool {
	if s.Deliver(frame) {
		return true
	}
	if !s.Closed() {
		h.logger.Warn("dropping event for slow session", "session", s.ID, "user", s.UserID, "event", name)
	}
	return false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
