package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestR2SummarizesOperations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cf-token", r.Header.Get("Authorization"))
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acct", req.Variables["accountTag"])
		assert.Equal(t, "downloads", req.Variables["bucket"])
		assert.Equal(t, "2026-09-23T12:00:00Z", req.Variables["since"])
		assert.Equal(t, "2026-09-30T12:00:00Z", req.Variables["until"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"viewer": {"accounts": [{
			"storage": [{"max": {"objectCount": 12, "payloadSize": 734003200, "metadataSize": 2048}}],
			"operations": [
				{"sum": {"requests": 40}, "dimensions": {"actionType": "GetObject", "date": "2026-09-29"}},
				{"sum": {"requests": 25}, "dimensions": {"actionType": "GetObject", "date": "2026-09-28"}},
				{"sum": {"requests": 3}, "dimensions": {"actionType": "PutObject", "date": "2026-09-28"}},
				{"sum": {"requests": 5}, "dimensions": {"actionType": "HeadObject", "date": "2026-09-29"}}
			]
		}]}}, "errors": null}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIURL: srv.URL, APIToken: "cf-token", AccountID: "acct", Bucket: "downloads"})
	client.now = func() time.Time { return time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC) }

	summary, err := client.R2(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), summary.ObjectCount)
	assert.Equal(t, int64(734003200), summary.PayloadBytes)
	assert.Equal(t, int64(3), summary.ClassA)
	assert.Equal(t, int64(70), summary.ClassB)
	assert.Equal(t, int64(65), summary.Downloads)
	assert.Equal(t, []OperationCount{
		{Action: "GetObject", Class: "B", Requests: 65},
		{Action: "HeadObject", Class: "B", Requests: 5},
		{Action: "PutObject", Class: "A", Requests: 3},
	}, summary.Operations)
	assert.Equal(t, []DailyCount{
		{Date: "2026-09-28", Requests: 28, Reads: 25},
		{Date: "2026-09-29", Requests: 45, Reads: 40},
	}, summary.Daily)
}

func TestR2ReportsGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": null, "errors": [{"message": "not authorized for that account"}]}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIURL: srv.URL, APIToken: "t", AccountID: "acct", Bucket: "b"})
	_, err := client.R2(context.Background(), 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestR2RequiresConfiguration(t *testing.T) {
	_, err := NewClient(Config{APIToken: "t"}).R2(context.Background(), 30)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var nilClient *Client
	_, err = nilClient.R2(context.Background(), 30)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
