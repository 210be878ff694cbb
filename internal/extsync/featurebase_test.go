package extsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/api/internal/store/storetest"
)

const roadmapPage = `<!doctype html><html><head><title>Roadmap</title></head><body>
<div id="root"></div>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"posts":[
	{"id":"65a1","slug":"export-to-gif","title":"Export to GIF","content":"<p>Please add <b>GIF</b> export</p>","postStatus":{"name":"In Review","color":"Blue"},"category":{"category":"Feature Requests"},"lastModified":"2026-09-01T10:00:00.000Z"},
	{"id":"65a2","slug":"crash-on-wake","title":"Crash on wake","content":"App crashes","status":"Planned"},
	{"title":"Navigation","href":"/roadmap"}
]}}}</script>
</body></html>`

const boardPage = `<!doctype html><html><body>
<h2>In Review</h2>
<ul>
	<li><a href="/p/dark-mode"><span>Dark mode</span> for editor</a></li>
	<li><a href="https://acme.featurebase.app/p/export-to-gif">Export to GIF</a></li>
</ul>
<h2>Planned</h2>
<a href="/p/crash-on-wake">Crash on wake</a>
<a href="/p/menu-bar-icon">Menu bar icon</a>
<a href="/roadmap">Roadmap</a>
</body></html>`

func TestExtractPostsFromEmbeddedJSON(t *testing.T) {
	posts, err := extractPosts(roadmapPage)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, featurebasePost{
		id:        "export-to-gif",
		slug:      "export-to-gif",
		title:     "Export to GIF",
		content:   "Please add GIF export",
		status:    "In Review",
		category:  "Feature Requests",
		updatedAt: "2026-09-01T10:00:00.000Z",
	}, posts[0])
	assert.Equal(t, "Planned", posts[1].status)
}

func TestExtractPostsFallsBackToAnchors(t *testing.T) {
	posts, err := extractPosts(boardPage)
	require.NoError(t, err)
	require.Len(t, posts, 4)

	assert.Equal(t, featurebasePost{id: "dark-mode", slug: "dark-mode", title: "Dark mode for editor", status: "In Review"}, posts[0])
	assert.Equal(t, "export-to-gif", posts[1].id)
	assert.Equal(t, "In Review", posts[1].status)
	assert.Equal(t, "Planned", posts[2].status)
	assert.Equal(t, "menu-bar-icon", posts[3].slug)
}

func TestFetchInReviewKeepsOnlyInReviewPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/roadmap":
			fmt.Fprint(w, roadmapPage)
		case "/":
			fmt.Fprint(w, boardPage)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetch, err := NewFeaturebaseClient(srv.URL + "/").FetchInReview(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fetch.Failed)
	// crash-on-wake and menu-bar-icon are planned; export-to-gif is seen twice
	assert.Equal(t, 2, fetch.Skipped)
	require.Len(t, fetch.Items, 2)

	gif := fetch.Items[0]
	assert.Equal(t, "export-to-gif", gif.ExternalID)
	assert.Equal(t, srv.URL+"/p/export-to-gif", gif.URL)
	assert.Equal(t, "Export to GIF\n\nPlease add GIF export", gif.Description)
	assert.Equal(t, TypeFeature, gif.Type)
	assert.Equal(t, "medium", gif.Priority)
	assert.Equal(t, []string{"source:featurebase", "fb:feature-requests"}, gif.Tags)

	dark := fetch.Items[1]
	assert.Equal(t, "dark-mode", dark.ExternalID)
	assert.Equal(t, srv.URL+"/p/dark-mode", dark.URL)
	assert.Equal(t, []string{"source:featurebase"}, dark.Tags)
}

func TestFeaturebasePostKeepsItsRowAcrossStrategies(t *testing.T) {
	var anchorsOnly atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if anchorsOnly.Load() {
			fmt.Fprint(w, boardPage)
			return
		}
		fmt.Fprint(w, roadmapPage)
	}))
	defer srv.Close()

	s := storetest.New(t)
	ctx := context.Background()
	svc := NewService(s, Deps{Featurebase: NewFeaturebaseClient(srv.URL)})

	first, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Featurebase.Inserted)

	anchorsOnly.Store(true)
	second, err := svc.Run(ctx)
	require.NoError(t, err)
	// only dark-mode is new; export-to-gif matches the row from the JSON run
	assert.Equal(t, 1, second.Featurebase.Inserted)

	rows, err := s.ListExternalFeedback(ctx, SourceFeaturebase)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ExternalID)
	}
	assert.ElementsMatch(t, []string{"export-to-gif", "dark-mode"}, ids)
}

func TestFetchInReviewToleratesOneFailedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/roadmap" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, boardPage)
	}))
	defer srv.Close()

	fetch, err := NewFeaturebaseClient(srv.URL).FetchInReview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/roadmap"}, fetch.Failed)
	assert.Len(t, fetch.Items, 2)
}

func TestFetchInReviewFailsWhenEveryPageFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetch, err := NewFeaturebaseClient(srv.URL).FetchInReview(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Len(t, fetch.Failed, 2)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a & b c", stripHTML("<p>a &amp; b</p><br/>c"))
	assert.Equal(t, "plain text", stripHTML("  plain \n text "))
	assert.Equal(t, "", stripHTML(""))
}
