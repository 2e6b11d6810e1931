package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"mscolab/api/internal/store"
)

type fakeEngine struct {
	healthy  bool
	searchFn func(q Query) ([]store.MessageHit, error)

	mu      sync.Mutex
	indexed []MessageRecord
	deleted []string
	calls   chan struct{}
}

func newFakeEngine(healthy bool) *fakeEngine {
	return &fakeEngine{healthy: healthy, calls: make(chan struct{}, 8)}
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(_ context.Context, q Query) ([]store.MessageHit, error) {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return nil, nil
}

func (f *fakeEngine) IndexMessages(records []MessageRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, records...)
	f.mu.Unlock()
	f.calls <- struct{}{}
	return nil
}

func (f *fakeEngine) DeleteMessage(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	f.calls <- struct{}{}
	return nil
}

func (f *fakeEngine) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for index call")
	}
}

func seedStore(t *testing.T) (*store.MemoryStore, int64) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	op, err := st.CreateOperation(ctx, store.Operation{Path: "europe"}, "u1", nil)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	for _, text := range []string{"turn at Kiruna", "fuel check", "kiruna again"} {
		if _, err := st.AppendMessage(ctx, store.Message{OpID: op.ID, UserID: "u1", Text: text}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
	return st, op.ID
}

func TestSearchFallsBackToStoreWithoutEngine(t *testing.T) {
	st, opID := seedStore(t)
	svc := NewService(nil, NewStoreSearcher(st), nil)

	resp, err := svc.Search(context.Background(), Query{OpID: opID, Text: "kiruna"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Engine != engineStore || len(resp.Results) != 2 {
		t.Fatalf("Search() = %+v", resp)
	}
	if resp.Results[0].ID != 1 || resp.Results[1].ID != 3 {
		t.Fatalf("unexpected hit order %+v", resp.Results)
	}
}

func TestSearchUsesHealthyEngineAndFallsBackOnError(t *testing.T) {
	st, opID := seedStore(t)
	engine := newFakeEngine(true)
	engine.searchFn = func(q Query) ([]store.MessageHit, error) {
		return []store.MessageHit{{Message: store.Message{ID: 9, OpID: q.OpID}}}, nil
	}
	svc := NewService(engine, NewStoreSearcher(st), nil)

	resp, err := svc.Search(context.Background(), Query{OpID: opID, Text: "fuel"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Engine != engineExternal || len(resp.Results) != 1 || resp.Results[0].ID != 9 {
		t.Fatalf("Search() = %+v", resp)
	}

	engine.searchFn = func(Query) ([]store.MessageHit, error) { return nil, errors.New("boom") }
	resp, err = svc.Search(context.Background(), Query{OpID: opID, Text: "fuel"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Engine != engineStore || len(resp.Results) != 1 || resp.Results[0].Text != "fuel check" {
		t.Fatalf("fallback Search() = %+v", resp)
	}
}

func TestEmptyQueryReturnsNoResults(t *testing.T) {
	st, opID := seedStore(t)
	svc := NewService(nil, NewStoreSearcher(st), nil)
	resp, err := svc.Search(context.Background(), Query{OpID: opID, Text: "  "})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("Search() results = %#v", resp.Results)
	}
}

func TestIndexingIsSkippedWhenEngineUnhealthy(t *testing.T) {
	engine := newFakeEngine(false)
	svc := NewService(engine, nil, nil)
	svc.IndexMessage(store.Message{ID: 1, OpID: 2})
	svc.RemoveMessage(2, 1)
	if len(engine.calls) != 0 {
		t.Fatalf("unexpected index calls: %d", len(engine.calls))
	}
}

func TestIndexAndRemoveMessage(t *testing.T) {
	engine := newFakeEngine(true)
	svc := NewService(engine, nil, nil)

	svc.IndexMessage(store.Message{ID: 4, OpID: 2, Text: "hello"})
	engine.wait(t)
	svc.RemoveMessage(2, 4)
	engine.wait(t)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.indexed) != 1 || engine.indexed[0].ID != "2-4" || engine.indexed[0].Text != "hello" {
		t.Fatalf("indexed = %+v", engine.indexed)
	}
	if len(engine.deleted) != 1 || engine.deleted[0] != "2-4" {
		t.Fatalf("deleted = %+v", engine.deleted)
	}
}

func TestReindexPushesAllMessages(t *testing.T) {
	st, opID := seedStore(t)
	engine := newFakeEngine(true)
	svc := NewService(engine, NewStoreSearcher(st), nil)

	if err := svc.Reindex(context.Background(), st, opID); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	engine.wait(t)
	if len(engine.indexed) != 3 {
		t.Fatalf("indexed %d records, want 3", len(engine.indexed))
	}
}

func TestHitToMessage(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := RecordFromMessage(store.Message{ID: 5, OpID: 3, UserID: "u1", Username: "Avery", Text: "turn at Kiruna", CreatedAt: created})
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	var hit meili.Hit
	if err := json.Unmarshal(raw, &hit); err != nil {
		t.Fatalf("unmarshal hit: %v", err)
	}
	hit["_formatted"] = json.RawMessage(`{"text":"turn at <b>Kiruna</b>","id":"3-5"}`)

	got, ok := hitToMessage(hit)
	if !ok {
		t.Fatal("hitToMessage() failed")
	}
	if got.ID != 5 || got.OpID != 3 || got.Username != "Avery" || !got.CreatedAt.Equal(created) {
		t.Fatalf("hitToMessage() = %+v", got)
	}
	if got.Snippet != "turn at <b>Kiruna</b>" {
		t.Fatalf("Snippet = %q", got.Snippet)
	}
}
