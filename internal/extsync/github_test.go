package extsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOpenIssuesFollowsPagesAndDropsPulls(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/lumen/issues", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"number": 3, "title": "How do I export?", "body": "", "html_url": "https://github.com/acme/lumen/issues/3", "state": "open", "updated_at": "2026-09-03T00:00:00Z", "labels": [{"name": "question"}]}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/lumen/issues?state=open&per_page=100&page=2>; rel="next", <%s/repos/acme/lumen/issues?state=open&per_page=100&page=2>; rel="last"`, srv.URL, srv.URL))
		fmt.Fprint(w, `[
			{"number": 1, "title": "[Bug] Crash when exporting", "body": "Steps: open app", "html_url": "https://github.com/acme/lumen/issues/1", "state": "open", "updated_at": "2026-09-01T00:00:00Z", "labels": [{"name": "P1"}, {"name": "Good First Issue"}]},
			{"number": 2, "title": "Bump deps", "html_url": "https://github.com/acme/lumen/pull/2", "state": "open", "pull_request": {"url": "x"}, "labels": []}
		]`)
	}))
	defer srv.Close()

	client := NewGitHubClient(GitHubConfig{APIURL: srv.URL, Token: "secret", Owner: "acme", Repo: "lumen"})
	items, pulls, err := client.FetchOpenIssues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pulls)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "1", first.ExternalID)
	assert.Equal(t, TypeBug, first.Type)
	assert.Equal(t, "high", first.Priority)
	assert.Equal(t, "[Bug] Crash when exporting\n\nSteps: open app", first.Description)
	assert.Equal(t, []string{"source:github", "gh:p1", "gh:good-first-issue"}, first.Tags)
	assert.Equal(t, "2026-09-01T00:00:00Z", first.UpdatedAt)

	second := items[1]
	assert.Equal(t, TypeQuestion, second.Type)
	assert.Equal(t, "How do I export?", second.Description)
}

func TestFetchOpenIssuesReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewGitHubClient(GitHubConfig{APIURL: srv.URL, Owner: "acme", Repo: "lumen"})
	_, _, err := client.FetchOpenIssues(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNextLink(t *testing.T) {
	cases := []struct{ header, want string }{
		{"", ""},
		{`<https://api.github.com/x?page=2>; rel="next", <https://api.github.com/x?page=5>; rel="last"`, "https://api.github.com/x?page=2"},
		{`<https://api.github.com/x?page=1>; rel="prev", <https://api.github.com/x?page=1>; rel="first"`, ""},
		{`<https://api.github.com/x?page=3>; rel="last next"`, "https://api.github.com/x?page=3"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextLink(tc.header), tc.header)
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		title  string
		body   string
		labels []string
		want   string
	}{
		{"[Feature] Crash reporter UI", "", nil, TypeFeature},
		{"[question] anything", "", []string{"bug"}, TypeQuestion},
		{"Sidebar", "", []string{"bug"}, TypeBug},
		{"Sidebar", "", []string{"help wanted"}, TypeFeature},
		{"Sidebar", "", []string{"support"}, TypeQuestion},
		{"Sidebar", "", []string{"enhancement"}, TypeFeature},
		{"App freezes on wake", "", nil, TypeBug},
		{"Recording", "how do I change the codec?", nil, TypeQuestion},
		{"Dark mode", "would be nice", nil, TypeFeature},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, inferType(tc.title, tc.body, tc.labels), "%q %v", tc.title, tc.labels)
	}
}

func TestInferPriority(t *testing.T) {
	assert.Equal(t, "critical", inferPriority([]string{"bug", "Urgent"}))
	assert.Equal(t, "high", inferPriority([]string{"P1"}))
	assert.Equal(t, "low", inferPriority([]string{"minor"}))
	assert.Equal(t, "medium", inferPriority([]string{"highlight"}))
	assert.Equal(t, "medium", inferPriority(nil))
}

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "good-first-issue", normalizeTag(" Good First Issue "))
	assert.Equal(t, "area:ui", normalizeTag("area:UI"))
	assert.Equal(t, "", normalizeTag("!!!"))
}
