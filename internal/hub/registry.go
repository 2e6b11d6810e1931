package hub

import "sync"

// Registry tracks live sessions and which user owns each.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		byUser:   map[string]map[string]*Session{},
	}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	if r.byUser[s.UserID] == nil {
		r.byUser[s.UserID] = map[string]*Session{}
	}
	r.byUser[s.UserID][s.ID] = s
}

// Unregister removes the session. last reports whether it was the user's
// final live session.
func (r *Registry) Unregister(sessionID string) (s *Session, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, sessionID)
	owned := r.byUser[s.UserID]
	delete(owned, sessionID)
	if len(owned) == 0 {
		delete(r.byUser, s.UserID)
		return s, true
	}
	return s, false
}

func (r *Registry) Session(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *Registry) SessionsOf(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		out = append(out, s)
	}
	return out
}

func (r *Registry) UserOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// All lists every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
