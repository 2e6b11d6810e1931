// Package session keeps the list of bearer tokens revoked before their
// natural expiry.
package session

import (
	"context"
	"sync"
	"time"
)

// Revocations records token ids until the token would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryStore is the single-instance revocation list.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, revoked: make(map[string]time.Time)}
}

func (s *MemoryStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, until := range s.revoked {
		if !until.After(now) {
			delete(s.revoked, id)
		}
	}
	if expiresAt.After(now) {
		s.revoked[tokenID] = expiresAt
	}
	return nil
}

func (s *MemoryStore) Revoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[tokenID]
	return ok && until.After(s.now()), nil
}
