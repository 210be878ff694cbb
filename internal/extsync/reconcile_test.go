package extsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/api/internal/store"
	"lumen/api/internal/store/storetest"
)

func issue(id, title string) Item {
	return Item{
		ExternalID:  id,
		URL:         "https://github.com/acme/lumen/issues/" + id,
		Title:       title,
		Type:        TypeBug,
		Priority:    "medium",
		Description: title,
		Tags:        []string{"source:github", "gh:bug"},
		UpdatedAt:   "2026-09-01T10:00:00Z",
	}
}

var githubOpts = ReconcileOptions{ResolveMissing: true, DefaultTags: []string{"source:github"}}

func TestReconcileInsertsNewItemsAsOpen(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	res, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "Crash on export"), issue("13", "Audio drift")}, githubOpts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Inserted)
	assert.Len(t, res.changed, 2)

	rows, err := s.ListExternalFeedback(ctx, SourceGitHub)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "open", rows[0].Status)
	assert.Equal(t, "12", rows[0].ExternalID)
	assert.Equal(t, "https://github.com/acme/lumen/issues/12", rows[0].ExternalURL)
	assert.Equal(t, "2026-09-01T10:00:00Z", rows[0].ExternalUpdatedAt)
	assert.Equal(t, []string{"source:github", "gh:bug"}, rows[0].Tags)
}

func TestReconcileReopensClosedRows(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "Crash on export")}, githubOpts)
	require.NoError(t, err)
	rows, err := s.ListExternalFeedback(ctx, SourceGitHub)
	require.NoError(t, err)
	require.NoError(t, s.SetFeedbackStatus(ctx, rows[0].ID, "resolved"))

	res, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "Crash on export")}, githubOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reopened)
	assert.Zero(t, res.Updated)

	item, err := s.GetFeedback(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "open", item.Status)
}

func TestReconcileUpdateKeepsLocalTagsAndStatus(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "Crash on export")}, githubOpts)
	require.NoError(t, err)
	rows, err := s.ListExternalFeedback(ctx, SourceGitHub)
	require.NoError(t, err)
	id := rows[0].ID

	status := "in_progress"
	tags := []string{"source:github", "gh:bug", "customer"}
	_, err = s.UpdateFeedbackAdmin(ctx, id, store.AdminUpdate{Status: &status, Tags: &tags})
	require.NoError(t, err)

	changed := issue("12", "Crash on export to ProRes")
	changed.Tags = []string{"source:github", "gh:bug", "gh:p1"}
	changed.Priority = "high"
	res, err := Reconcile(ctx, s, SourceGitHub, []Item{changed}, githubOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	item, err := s.GetFeedback(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", item.Status)
	assert.Equal(t, "high", item.Priority)
	assert.Equal(t, "Crash on export to ProRes", item.Description)
	assert.Equal(t, []string{"source:github", "gh:bug", "customer", "gh:p1"}, item.Tags)
}

func TestReconcileResolvesMissingOnlyWhenAsked(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "a"), issue("13", "b")}, githubOpts)
	require.NoError(t, err)

	res, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "a")}, ReconcileOptions{DefaultTags: []string{"source:github"}})
	require.NoError(t, err)
	assert.Zero(t, res.Resolved)

	res, err = Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "a")}, githubOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)

	rows, err := s.ListExternalFeedback(ctx, SourceGitHub)
	require.NoError(t, err)
	statuses := map[string]string{}
	for _, row := range rows {
		statuses[row.ExternalID] = row.Status
	}
	assert.Equal(t, map[string]string{"12": "open", "13": "resolved"}, statuses)

	// an already resolved row is not resolved again
	res, err = Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "a")}, githubOpts)
	require.NoError(t, err)
	assert.Zero(t, res.Resolved)
}

func TestReconcileSecondRunWritesNothing(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	items := []Item{issue("12", "a"), issue("13", "b")}

	_, err := Reconcile(ctx, s, SourceGitHub, items, githubOpts)
	require.NoError(t, err)
	before, err := s.ListExternalFeedback(ctx, SourceGitHub)
	require.NoError(t, err)

	res, err := Reconcile(ctx, s, SourceGitHub, items, githubOpts)
	require.NoError(t, err)
	assert.Equal(t, SourceResult{Status: StatusOK, Fetched: 2, Skipped: 2}, res)

	after, err := s.ListExternalFeedback(ctx, SourceGitHub)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReconcileSkipsBlankAndDuplicateIDs(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	res, err := Reconcile(ctx, s, SourceFeaturebase, []Item{issue("", "blank"), issue("p1", "a"), issue("p1", "again")}, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Skipped)
}

func TestReconcileKeepsSourcesApart(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := Reconcile(ctx, s, SourceGitHub, []Item{issue("12", "gh")}, githubOpts)
	require.NoError(t, err)
	res, err := Reconcile(ctx, s, SourceFeaturebase, []Item{issue("12", "fb")}, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	res, err = Reconcile(ctx, s, SourceGitHub, nil, githubOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	fb, err := s.ListExternalFeedback(ctx, SourceFeaturebase)
	require.NoError(t, err)
	assert.Equal(t, "open", fb[0].Status)
}

func TestMergeTags(t *testing.T) {
	assert.Equal(t, []string{"source:github", "Customer", "gh:bug"},
		mergeTags([]string{"source:github", " Customer ", ""}, []string{"customer", "gh:bug", "SOURCE:github"}))
	assert.Empty(t, mergeTags(nil, nil))
}
