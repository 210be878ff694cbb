package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.FeedbackSubmitted("Bug Report", "app")
	m.FeedbackSubmitted("Bug Report", "app")
	m.ObserveSync("github", "ok", 3)
	m.ObserveSync("featurebase", "skipped", 0)
	m.Download(DownloadTracked)
	m.Download(DownloadLimited)
	m.ObserveRequest("GET", 200, 12*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedbackSubmitted.WithLabelValues("Bug Report", "app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("featurebase", "skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.syncChanges.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues(DownloadLimited)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lumen_api_downloads_requests_total{outcome="tracked"} 1`)
	assert.Contains(t, string(body), `lumen_api_http_requests_total{code="200",method="GET"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FeedbackSubmitted("Bug Report", "app")
	m.ObserveSync("github", "ok", 1)
	m.Download(DownloadTracked)
	m.ObserveRequest("GET", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
