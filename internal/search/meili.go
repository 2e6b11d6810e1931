package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"mscolab/api/internal/logging"
	"mscolab/api/internal/store"
)

const idxMessages = "mscolab_messages"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  logging.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the message index.
// An unreachable server is not an error; the health loop keeps probing.
func NewMeili(url, apiKey string, logger logging.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logging.OrNop(logger),
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxMessages,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxMessages, "error", err)
	}

	index := m.client.Index(idxMessages)
	filterable := []interface{}{"opId", "messageType", "uId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxMessages, "error", err)
	}
	searchable := []string{"text", "username"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxMessages, "error", err)
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("update sortable attributes", "index", idxMessages, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]store.MessageHit, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxMessages,
			Query:                 q.Text,
			Limit:                 int64(limitOf(q)),
			Filter:                fmt.Sprintf("opId = %d", q.OpID),
			AttributesToHighlight: []string{"text"},
			HighlightPreTag:       "<b>",
			HighlightPostTag:      "</b>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var hits []store.MessageHit
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			decoded, ok := hitToMessage(hit)
			if !ok || decoded.OpID != q.OpID {
				continue
			}
			hits = append(hits, decoded)
		}
	}
	return hits, nil
}

func hitToMessage(hit meili.Hit) (store.MessageHit, bool) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return store.MessageHit{}, false
	}
	var rec MessageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.MessageHit{}, false
	}
	msg := rec.message()
	return store.MessageHit{
		Message: msg,
		Snippet: firstNonBlank(decodeFormattedString(hit, "text"), msg.Text),
	}, true
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexMessages adds or replaces messages in the index.
func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}
