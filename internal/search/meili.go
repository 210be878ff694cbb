package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxFeedback = "feedback"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the feedback index.
// An unreachable server is logged and retried by the health loop.
func NewMeili(url, apiKey string) *Meili {
	return newMeili(url, apiKey, 10*time.Second)
}

func newMeili(url, apiKey string, interval time.Duration) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop(interval)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxFeedback,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxFeedback, err)
	}

	index := m.client.Index(idxFeedback)
	filterable := []interface{}{"type", "status", "priority", "externalSource"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxFeedback, err)
	}
	searchable := []string{"description", "email", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxFeedback, err)
	}
}

func (m *Meili) healthLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
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
				log.Println("search: meilisearch recovered, reconfiguring index")
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

// SearchIDs runs a single-index search and returns the ids of the hits.
func (m *Meili) SearchIDs(q Query) ([]int64, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 1000
	}

	req := &meili.SearchRequest{
		IndexUID:             idxFeedback,
		Query:                q.Text,
		Limit:                limit,
		AttributesToRetrieve: []string{"id"},
	}
	var filters []string
	for _, f := range [][2]string{{"type", q.Type}, {"status", q.Status}, {"priority", q.Priority}} {
		if f[1] != "" {
			filters = append(filters, fmt.Sprintf("%s = %q", f[0], f[1]))
		}
	}
	if len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]int64, 0)
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			if id, ok := decodeID(hit); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func decodeID(hit meili.Hit) (int64, bool) {
	raw, ok := hit["id"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// IndexFeedback adds or replaces records in the index.
func (m *Meili) IndexFeedback(records ...FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFeedback).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteFeedback(id int64) error {
	_, err := m.client.Index(idxFeedback).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}
