package search

import (
	"context"
	"log"
	"strings"

	"lumen/api/internal/store"
)

// Service asks Meilisearch for matching ids when it is healthy and otherwise
// leaves the text search to the SQL LIKE fallback in the store.
type Service struct {
	meili Backend
}

// Backend is satisfied by *Meili.
type Backend interface {
	Searcher
	Indexer
}

// NewService creates a search service. backend may be nil when Meilisearch
// is not configured.
func NewService(backend Backend) *Service {
	if m, ok := backend.(*Meili); ok && m == nil {
		backend = nil
	}
	return &Service{meili: backend}
}

func (s *Service) available() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

// Apply rewrites filter.Search into an id list when Meilisearch answers.
// On any failure the filter is returned unchanged.
func (s *Service) Apply(filter store.FeedbackFilter) store.FeedbackFilter {
	text := strings.TrimSpace(filter.Search)
	if text == "" || !s.available() {
		return filter
	}
	ids, err := s.meili.SearchIDs(Query{
		Text:     text,
		Type:     filter.Type,
		Status:   filter.Status,
		Priority: filter.Priority,
	})
	if err != nil {
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
		return filter
	}
	filter.IDs = ids
	filter.Search = ""
	return filter
}

// IndexFeedback indexes one row (fire-and-forget to Meilisearch).
func (s *Service) IndexFeedback(item store.Feedback) {
	if !s.available() {
		return
	}
	record := RecordFromFeedback(item)
	go func() {
		if err := s.meili.IndexFeedback(record); err != nil {
			log.Printf("search: index feedback %d: %v", record.ID, err)
		}
	}()
}

// DeleteFeedback removes a row from the index (fire-and-forget).
func (s *Service) DeleteFeedback(id int64) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.meili.DeleteFeedback(id); err != nil {
			log.Printf("search: delete feedback %d: %v", id, err)
		}
	}()
}

// Lister pages through feedback rows for a full reindex.
type Lister interface {
	ListFeedback(ctx context.Context, filter store.FeedbackFilter) ([]store.Feedback, int, error)
}

const reindexPage = 500

// ReindexAll pushes every feedback row into Meilisearch. Called at startup
// when the index is reachable.
func (s *Service) ReindexAll(ctx context.Context, lister Lister) {
	if !s.available() || lister == nil {
		return
	}
	indexed := 0
	for offset := 0; ; offset += reindexPage {
		items, total, err := lister.ListFeedback(ctx, store.FeedbackFilter{Limit: reindexPage, Offset: offset})
		if err != nil {
			log.Printf("search: reindex load failed: %v", err)
			return
		}
		records := make([]FeedbackRecord, len(items))
		for i, item := range items {
			records[i] = RecordFromFeedback(item)
		}
		if err := s.meili.IndexFeedback(records...); err != nil {
			log.Printf("search: reindex feedback: %v", err)
			return
		}
		indexed += len(items)
		if len(items) < reindexPage || offset+len(items) >= total {
			break
		}
	}
	log.Printf("search: reindexed %d feedback rows", indexed)
}

func RecordFromFeedback(item store.Feedback) FeedbackRecord {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return FeedbackRecord{
		ID:             item.ID,
		Type:           item.Type,
		Status:         item.Status,
		Priority:       item.Priority,
		ExternalSource: item.ExternalSource,
		Description:    item.Description,
		Email:          item.Email,
		Tags:           tags,
	}
}
