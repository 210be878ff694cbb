package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"lumen/api/internal/store"
)

type fakeBackend struct {
	healthy  bool
	searchFn func(Query) ([]int64, error)
	indexed  chan []FeedbackRecord
	deleted  chan int64
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) SearchIDs(q Query) ([]int64, error) {
	if f.searchFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.searchFn(q)
}

func (f *fakeBackend) IndexFeedback(records ...FeedbackRecord) error {
	if f.indexed != nil {
		f.indexed <- records
	}
	return nil
}

func (f *fakeBackend) DeleteFeedback(id int64) error {
	if f.deleted != nil {
		f.deleted <- id
	}
	return nil
}

func TestApplyUsesMeiliWhenHealthy(t *testing.T) {
	var got Query
	svc := NewService(&fakeBackend{
		healthy: true,
		searchFn: func(q Query) ([]int64, error) {
			got = q
			return []int64{7, 3}, nil
		},
	})

	filter := svc.Apply(store.FeedbackFilter{Search: " crash ", Status: "open", Limit: 20})
	if filter.Search != "" {
		t.Fatalf("expected search text to be consumed, got %q", filter.Search)
	}
	if len(filter.IDs) != 2 || filter.IDs[0] != 7 {
		t.Fatalf("unexpected ids %v", filter.IDs)
	}
	if got.Text != "crash" || got.Status != "open" {
		t.Fatalf("unexpected query %+v", got)
	}
	if filter.Limit != 20 {
		t.Fatalf("paging must be preserved, got %d", filter.Limit)
	}
}

func TestApplyFallsBackToSQL(t *testing.T) {
	cases := map[string]*Service{
		"not configured": NewService(nil),
		"nil meili":      NewService((*Meili)(nil)),
		"unhealthy":      NewService(&fakeBackend{healthy: false}),
		"search error": NewService(&fakeBackend{healthy: true, searchFn: func(Query) ([]int64, error) {
			return nil, errors.New("boom")
		}}),
	}
	for name, svc := range cases {
		filter := svc.Apply(store.FeedbackFilter{Search: "crash"})
		if filter.Search != "crash" || filter.IDs != nil {
			t.Fatalf("%s: expected unchanged filter, got %+v", name, filter)
		}
	}
}

func TestApplyIgnoresEmptySearch(t *testing.T) {
	called := false
	svc := NewService(&fakeBackend{healthy: true, searchFn: func(Query) ([]int64, error) {
		called = true
		return nil, nil
	}})
	svc.Apply(store.FeedbackFilter{Search: "  "})
	if called {
		t.Fatal("blank search must not reach meilisearch")
	}
}

func TestIndexAndDeleteAreAsync(t *testing.T) {
	backend := &fakeBackend{healthy: true, indexed: make(chan []FeedbackRecord, 1), deleted: make(chan int64, 1)}
	svc := NewService(backend)

	svc.IndexFeedback(store.Feedback{ID: 4, Type: "Bug Report", Description: "x"})
	select {
	case records := <-backend.indexed:
		if len(records) != 1 || records[0].ID != 4 || records[0].Tags == nil {
			t.Fatalf("unexpected records %+v", records)
		}
	case <-time.After(time.Second):
		t.Fatal("index was not called")
	}

	svc.DeleteFeedback(4)
	select {
	case id := <-backend.deleted:
		if id != 4 {
			t.Fatalf("unexpected delete id %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("delete was not called")
	}
}

type pagedLister struct {
	items []store.Feedback
	calls int
}

func (p *pagedLister) ListFeedback(_ context.Context, filter store.FeedbackFilter) ([]store.Feedback, int, error) {
	p.calls++
	end := min(filter.Offset+filter.Limit, len(p.items))
	if filter.Offset >= len(p.items) {
		return nil, len(p.items), nil
	}
	return p.items[filter.Offset:end], len(p.items), nil
}

func TestReindexAllPages(t *testing.T) {
	backend := &fakeBackend{healthy: true, indexed: make(chan []FeedbackRecord, 4)}
	svc := NewService(backend)
	lister := &pagedLister{items: make([]store.Feedback, reindexPage+3)}
	for i := range lister.items {
		lister.items[i] = store.Feedback{ID: int64(i + 1)}
	}

	svc.ReindexAll(context.Background(), lister)

	if lister.calls != 2 {
		t.Fatalf("expected 2 pages, got %d", lister.calls)
	}
	total := 0
	for i := 0; i < 2; i++ {
		total += len(<-backend.indexed)
	}
	if total != reindexPage+3 {
		t.Fatalf("expected %d records, got %d", reindexPage+3, total)
	}
}
