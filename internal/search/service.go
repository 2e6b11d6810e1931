package search

import (
	"context"
	"time"

	"mscolab/api/internal/logging"
	"mscolab/api/internal/store"
)

const (
	engineExternal = "meilisearch"
	engineStore    = "store"
)

// Service is the facade that tries the external engine first and falls
// back to the store.
type Service struct {
	engine   Engine
	fallback Searcher
	logger   logging.Logger
}

// NewService creates a search service. engine may be nil when Meilisearch
// is not configured.
func NewService(engine Engine, fallback Searcher, logger logging.Logger) *Service {
	return &Service{engine: engine, fallback: fallback, logger: logging.OrNop(logger)}
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.engine != nil && s.engine.Healthy() {
		hits, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(hits), Query: q.Text, Engine: engineExternal}, nil
		}
		s.logger.Warn("meilisearch error, falling back to store", "op", q.OpID, "error", err)
	}

	hits, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(hits), Query: q.Text, Engine: engineStore}, nil
}

// IndexMessage pushes msg to the external engine in the background.
func (s *Service) IndexMessage(msg store.Message) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	rec := RecordFromMessage(msg)
	go func() {
		if err := s.engine.IndexMessages([]MessageRecord{rec}); err != nil {
			s.logger.Warn("index message", "op", rec.OpID, "message", rec.MessageID, "error", err)
		}
	}()
}

// RemoveMessage drops a message from the external engine in the background.
func (s *Service) RemoveMessage(opID, messageID int64) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	id := RecordID(opID, messageID)
	go func() {
		if err := s.engine.DeleteMessage(id); err != nil {
			s.logger.Warn("delete indexed message", "id", id, "error", err)
		}
	}()
}

// Reindex pushes every message of the operation to the external engine.
func (s *Service) Reindex(ctx context.Context, st store.Store, opID int64) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	msgs, err := st.ListMessages(ctx, opID, time.Time{})
	if err != nil {
		return err
	}
	records := make([]MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, RecordFromMessage(m))
	}
	return s.engine.IndexMessages(records)
}

func nonNil(h []store.MessageHit) []store.MessageHit {
	if h == nil {
		return []store.MessageHit{}
	}
	return h
}
