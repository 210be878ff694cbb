package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const taskJSON = `{"taskUid":1,"indexUid":"feedback","status":"enqueued","type":"settingsUpdate","enqueuedAt":"2026-01-01T00:00:00Z"}`

func fakeMeiliServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/health":
			_, _ = io.WriteString(w, `{"status":"available"}`)
		case r.URL.Path == "/multi-search":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"results":[{"indexUid":"feedback","hits":[{"id":12},{"id":"5"},{"title":"no id"}],"query":"crash","processingTimeMs":1,"limit":1000,"offset":0,"estimatedTotalHits":2}]}`)
		default:
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, taskJSON)
		}
	}))
	t.Cleanup(server.Close)
	return server, &bodies
}

func TestMeiliSearchIDs(t *testing.T) {
	server, bodies := fakeMeiliServer(t)
	m := newMeili(server.URL, "key", time.Hour)
	defer m.Close()

	if !m.Healthy() {
		t.Fatal("expected healthy client")
	}

	ids, err := m.SearchIDs(Query{Text: "crash", Status: "open"})
	if err != nil {
		t.Fatalf("SearchIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 12 || ids[1] != 5 {
		t.Fatalf("unexpected ids %v", ids)
	}

	if len(*bodies) != 1 {
		t.Fatalf("expected one multi-search call, got %d", len(*bodies))
	}
	var sent struct {
		Queries []struct {
			IndexUID string   `json:"indexUid"`
			Q        string   `json:"q"`
			Filter   []string `json:"filter"`
		} `json:"queries"`
	}
	if err := json.Unmarshal([]byte((*bodies)[0]), &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(sent.Queries) != 1 || sent.Queries[0].IndexUID != "feedback" || sent.Queries[0].Q != "crash" {
		t.Fatalf("unexpected request %s", (*bodies)[0])
	}
	if len(sent.Queries[0].Filter) != 1 || !strings.Contains(sent.Queries[0].Filter[0], `status = "open"`) {
		t.Fatalf("unexpected filter %v", sent.Queries[0].Filter)
	}
}

func TestMeiliUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"down"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := newMeili(server.URL, "", time.Hour)
	defer m.Close()

	if m.Healthy() {
		t.Fatal("expected unhealthy client")
	}
	if _, err := m.SearchIDs(Query{Text: "x"}); err == nil {
		t.Fatal("expected error from unhealthy client")
	}
}
