package extsync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"lumen/api/internal/store"
)

// Store is the part of the SQL store the reconciler needs.
type Store interface {
	ListExternalFeedback(ctx context.Context, source string) ([]store.Feedback, error)
	InsertFeedback(ctx context.Context, item store.Feedback) (int64, error)
	ApplySyncUpdate(ctx context.Context, id int64, update store.SyncUpdate) error
	SetFeedbackStatus(ctx context.Context, id int64, status string) error
}

type ReconcileOptions struct {
	// ResolveMissing resolves local rows whose item is no longer upstream.
	ResolveMissing bool
	// DefaultTags are merged ahead of each item's own tags.
	DefaultTags []string
}

func isClosed(status string) bool {
	return status == "resolved" || status == "closed"
}

// Reconcile brings local rows of source in line with items. Rows are
// matched by external id. Writes that would not change a row are skipped,
// so running it twice against the same items mutates nothing the second
// time.
func Reconcile(ctx context.Context, st Store, source string, items []Item, opts ReconcileOptions) (SourceResult, error) {
	result := SourceResult{Status: StatusOK, Fetched: len(items)}

	existing, err := st.ListExternalFeedback(ctx, source)
	if err != nil {
		return result, fmt.Errorf("load %s rows: %w", source, err)
	}
	byExternalID := make(map[string]store.Feedback, len(existing))
	for _, row := range existing {
		byExternalID[row.ExternalID] = row
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ExternalID == "" || seen[item.ExternalID] {
			result.Skipped++
			continue
		}
		seen[item.ExternalID] = true

		row, ok := byExternalID[item.ExternalID]
		if !ok {
			id, err := st.InsertFeedback(ctx, store.Feedback{
				Type:              item.Type,
				Description:       item.Description,
				Status:            "open",
				Priority:          item.Priority,
				Tags:              mergeTags(opts.DefaultTags, item.Tags),
				ExternalSource:    source,
				ExternalID:        item.ExternalID,
				ExternalURL:       item.URL,
				ExternalUpdatedAt: item.UpdatedAt,
			})
			if err != nil {
				return result, fmt.Errorf("insert %s %s: %w", source, item.ExternalID, err)
			}
			result.Inserted++
			result.changed = append(result.changed, id)
			continue
		}

		update := store.SyncUpdate{
			Type:              item.Type,
			Description:       item.Description,
			Priority:          item.Priority,
			Tags:              mergeTags(row.Tags, mergeTags(opts.DefaultTags, item.Tags)),
			Status:            row.Status,
			ExternalURL:       item.URL,
			ExternalUpdatedAt: item.UpdatedAt,
		}
		reopen := isClosed(row.Status)
		if reopen {
			update.Status = "open"
		}
		if !reopen && !syncChanges(row, update) {
			result.Skipped++
			continue
		}
		if err := st.ApplySyncUpdate(ctx, row.ID, update); err != nil {
			return result, fmt.Errorf("update %s %s: %w", source, item.ExternalID, err)
		}
		if reopen {
			result.Reopened++
		} else {
			result.Updated++
		}
		result.changed = append(result.changed, row.ID)
	}

	if !opts.ResolveMissing {
		return result, nil
	}
	for _, row := range existing {
		if seen[row.ExternalID] || isClosed(row.Status) {
			continue
		}
		if err := st.SetFeedbackStatus(ctx, row.ID, "resolved"); err != nil {
			return result, fmt.Errorf("resolve %s %s: %w", source, row.ExternalID, err)
		}
		result.Resolved++
		result.changed = append(result.changed, row.ID)
	}
	return result, nil
}

func syncChanges(row store.Feedback, update store.SyncUpdate) bool {
	return row.Type != update.Type ||
		row.Description != update.Description ||
		row.Priority != update.Priority ||
		row.Status != update.Status ||
		row.ExternalURL != update.ExternalURL ||
		row.ExternalUpdatedAt != update.ExternalUpdatedAt ||
		!slices.Equal(row.Tags, update.Tags)
}

// mergeTags appends incoming to base, dropping blanks and case-insensitive
// duplicates. The first spelling of a tag wins.
func mergeTags(base, incoming []string) []string {
	out := make([]string, 0, len(base)+len(incoming))
	seen := make(map[string]bool, len(base)+len(incoming))
	for _, list := range [][]string{base, incoming} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			key := strings.ToLower(tag)
			if tag == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}
