package search

import (
	"context"
	"strings"

	"mscolab/api/internal/store"
)

// StoreSearcher runs queries against the store's own full-text index
// (Postgres tsvector, or substring matching in memory).
type StoreSearcher struct {
	store store.Store
}

func NewStoreSearcher(st store.Store) *StoreSearcher {
	return &StoreSearcher{store: st}
}

// Healthy is always true; without the store nothing else works either.
func (s *StoreSearcher) Healthy() bool {
	return true
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]store.MessageHit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	return s.store.SearchMessages(ctx, q.OpID, q.Text, limitOf(q))
}

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}
