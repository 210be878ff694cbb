package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"lumen/api/internal/blob"
	"lumen/api/internal/diagnostics"
	"lumen/api/internal/store"
)

type SubmitFeedbackInput struct {
	Type              string         `json:"type" validate:"required,feedbacktype"`
	Email             string         `json:"email" validate:"max=320"`
	Description       string         `json:"description" validate:"required,max=20000"`
	ExternalSource    string         `json:"externalSource" validate:"omitempty,oneof=app manual github featurebase"`
	ExternalID        string         `json:"externalId" validate:"max=200"`
	ExternalURL       string         `json:"externalUrl" validate:"omitempty,max=2048,url"`
	Diagnostics       map[string]any `json:"diagnostics"`
	IncludeScreenshot bool           `json:"includeScreenshot"`
	ScreenshotData    string         `json:"screenshotData" validate:"omitempty,base64"`
}

type UpdateFeedbackInput struct {
	Status   *string   `json:"status" validate:"omitempty,feedbackstatus"`
	Priority *string   `json:"priority" validate:"omitempty,priority"`
	Notes    *string   `json:"notes" validate:"omitempty,max=10000"`
	Tags     *[]string `json:"tags" validate:"omitempty,max=50,dive,max=64"`
	IsRead   *bool     `json:"isRead"`
}

type AddNoteInput struct {
	Body   string `json:"body" validate:"required,max=10000"`
	Author string `json:"author" validate:"max=120"`
}

type ListFeedbackInput struct {
	Type     string `json:"type" validate:"omitempty,feedbacktype"`
	Status   string `json:"status" validate:"omitempty,feedbackstatus"`
	Priority string `json:"priority" validate:"omitempty,priority"`
	Search   string `json:"search" validate:"max=200"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// FeedbackSummary is the list shape; it carries no diagnostics.
type FeedbackSummary struct {
	ID             int64     `json:"id"`
	Type           string    `json:"type"`
	Email          string    `json:"email,omitempty"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	Tags           []string  `json:"tags"`
	IsRead         bool      `json:"isRead"`
	ExternalSource string    `json:"externalSource"`
	ExternalID     string    `json:"externalId,omitempty"`
	ExternalURL    string    `json:"externalUrl,omitempty"`
	AppVersion     string    `json:"appVersion,omitempty"`
	OSVersion      string    `json:"osVersion,omitempty"`
	DisplayCount   int       `json:"displayCount"`
	HasScreenshot  bool      `json:"hasScreenshot"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type NoteView struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type FeedbackDetail struct {
	FeedbackSummary
	Notes       []NoteView            `json:"notes"`
	Diagnostics diagnostics.Effective `json:"diagnostics"`
}

type FeedbackPage struct {
	Count    int               `json:"count"`
	Total    int               `json:"total"`
	HasMore  bool              `json:"hasMore"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
	Feedback []FeedbackSummary `json:"feedback"`
}

func summarize(item store.Feedback) FeedbackSummary {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return FeedbackSummary{
		ID:             item.ID,
		Type:           item.Type,
		Email:          item.Email,
		Description:    item.Description,
		Status:         item.Status,
		Priority:       item.Priority,
		Tags:           tags,
		IsRead:         item.IsRead,
		ExternalSource: item.ExternalSource,
		ExternalID:     item.ExternalID,
		ExternalURL:    item.ExternalURL,
		AppVersion:     item.AppVersion,
		OSVersion:      item.OSVersion,
		DisplayCount:   item.DisplayCount,
		HasScreenshot:  item.HasScreenshot,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

func noteView(note store.Note) NoteView {
	return NoteView{ID: note.ID, Author: note.Author, Body: note.Body, CreatedAt: note.CreatedAt}
}

// SubmitFeedback stores a new item with its diagnostics and screenshot.
// Diagnostics or screenshot failures are logged; the row is kept either way
// so a client retry does not create a duplicate.
func (s *Service) SubmitFeedback(ctx context.Context, input SubmitFeedbackInput) (int64, error) {
	input.Type = strings.TrimSpace(input.Type)
	input.Description = strings.TrimSpace(input.Description)
	input.Email = strings.TrimSpace(input.Email)
	input.ScreenshotData = stripDataURL(input.ScreenshotData)
	if err := s.check(input); err != nil {
		return 0, err
	}
	source := input.ExternalSource
	if source == "" {
		source = "app"
	}
	if source != "app" && source != "manual" && strings.TrimSpace(input.ExternalID) == "" {
		return 0, validationError("externalId is required for synced sources", nil)
	}

	id, err := s.store.InsertFeedback(ctx, store.Feedback{
		Type:           input.Type,
		Email:          input.Email,
		Description:    input.Description,
		ExternalSource: source,
		ExternalID:     strings.TrimSpace(input.ExternalID),
		ExternalURL:    strings.TrimSpace(input.ExternalURL),
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return 0, domainError(http.StatusConflict, "DUPLICATE_EXTERNAL_ID", "Feedback with this external id already exists", nil)
		}
		return 0, fmt.Errorf("insert feedback: %w", err)
	}

	if err := s.diagnostics.Upsert(ctx, id, input.Diagnostics, diagnostics.AllOptions()); err != nil {
		log.Printf("feedback: diagnostics for %d not stored: %v", id, err)
	}
	if input.IncludeScreenshot && input.ScreenshotData != "" {
		s.storeScreenshot(ctx, id, input.ScreenshotData)
	}

	s.metrics.FeedbackSubmitted(input.Type, source)
	if item, err := s.store.GetFeedback(ctx, id); err == nil {
		s.indexFeedback(item)
	}
	return id, nil
}

// storeScreenshot uploads to object storage when configured and falls back
// to the inline column otherwise.
func (s *Service) storeScreenshot(ctx context.Context, id int64, encoded string) {
	if s.screenshots != nil {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			key := blob.ScreenshotKey(id)
			if err = s.screenshots.Put(ctx, key, data, ""); err == nil {
				if err := s.store.SetScreenshot(ctx, id, store.Screenshot{Key: key}); err != nil {
					log.Printf("feedback: screenshot key for %d not saved: %v", id, err)
				}
				return
			}
		}
		log.Printf("feedback: screenshot upload for %d failed, keeping inline copy: %v", id, err)
	}
	if err := s.store.SetScreenshot(ctx, id, store.Screenshot{Data: encoded}); err != nil {
		log.Printf("feedback: screenshot for %d not saved: %v", id, err)
	}
}

func stripDataURL(data string) string {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		if _, payload, ok := strings.Cut(data, ","); ok {
			return payload
		}
	}
	return data
}

func (s *Service) ListFeedback(ctx context.Context, input ListFeedbackInput) (FeedbackPage, error) {
	if err := s.check(input); err != nil {
		return FeedbackPage{}, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultPerPage
	}
	limit = min(limit, maxPerPage)
	offset := max(input.Offset, 0)

	filter := store.FeedbackFilter{
		Type:     input.Type,
		Status:   input.Status,
		Priority: input.Priority,
		Search:   strings.TrimSpace(input.Search),
		Limit:    limit,
		Offset:   offset,
	}
	if s.search != nil {
		filter = s.search.Apply(filter)
	}
	items, total, err := s.store.ListFeedback(ctx, filter)
	if err != nil {
		return FeedbackPage{}, err
	}
	page := FeedbackPage{
		Count:    len(items),
		Total:    total,
		HasMore:  offset+len(items) < total,
		Offset:   offset,
		Limit:    limit,
		Feedback: make([]FeedbackSummary, 0, len(items)),
	}
	for _, item := range items {
		page.Feedback = append(page.Feedback, summarize(item))
	}
	return page, nil
}

// GetFeedback hydrates one item. Recent log lines are large, so they are
// only included on request; errors always are.
func (s *Service) GetFeedback(ctx context.Context, id int64, includeRecentLogs bool) (FeedbackDetail, error) {
	item, err := s.store.GetFeedback(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return FeedbackDetail{}, notFound("Feedback")
		}
		return FeedbackDetail{}, err
	}
	notes, err := s.store.ListNotes(ctx, id)
	if err != nil {
		return FeedbackDetail{}, err
	}
	states, err := s.diagnostics.LoadByFeedbackIDs(ctx, []int64{id})
	if err != nil {
		return FeedbackDetail{}, err
	}

	effective := diagnostics.Resolve(states[id], item.Legacy, item.DisplayCount)
	if !includeRecentLogs {
		effective.RecentLogs = []store.LogEntry{}
	}
	detail := FeedbackDetail{
		FeedbackSummary: summarize(item),
		Notes:           make([]NoteView, 0, len(notes)),
		Diagnostics:     effective,
	}
	detail.DisplayCount = effective.DisplayCount
	for _, note := range notes {
		detail.Notes = append(detail.Notes, noteView(note))
	}
	return detail, nil
}

// UpdateFeedback applies an admin PATCH. A non-empty notes string appends a
// note rather than replacing anything.
func (s *Service) UpdateFeedback(ctx context.Context, id int64, input UpdateFeedbackInput) (FeedbackDetail, error) {
	if err := s.check(input); err != nil {
		return FeedbackDetail{}, err
	}
	note := ""
	if input.Notes != nil {
		note = strings.TrimSpace(*input.Notes)
	}
	if input.Status == nil && input.Priority == nil && input.Tags == nil && input.IsRead == nil && note == "" {
		return FeedbackDetail{}, validationError("No updatable fields provided", nil)
	}

	update := store.AdminUpdate{Status: input.Status, Priority: input.Priority, IsRead: input.IsRead}
	if input.Tags != nil {
		tags := cleanTags(*input.Tags)
		update.Tags = &tags
	}
	found, err := s.store.UpdateFeedbackAdmin(ctx, id, update)
	if err != nil {
		return FeedbackDetail{}, err
	}
	if !found {
		return FeedbackDetail{}, notFound("Feedback")
	}
	if note != "" {
		if _, err := s.store.AddNote(ctx, id, "admin", note); err != nil {
			return FeedbackDetail{}, err
		}
		if err := s.store.TouchFeedback(ctx, id); err != nil {
			return FeedbackDetail{}, err
		}
	}

	detail, err := s.GetFeedback(ctx, id, false)
	if err != nil {
		return FeedbackDetail{}, err
	}
	if item, err := s.store.GetFeedback(ctx, id); err == nil {
		s.indexFeedback(item)
	}
	return detail, nil
}

// cleanTags trims, drops blanks and removes case-insensitive duplicates.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func (s *Service) DeleteFeedback(ctx context.Context, id int64) error {
	item, err := s.store.GetFeedback(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Feedback")
		}
		return err
	}
	deleted, err := s.store.DeleteFeedback(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Feedback")
	}
	if s.search != nil {
		s.search.DeleteFeedback(id)
	}
	if item.ScreenshotKey != "" && s.screenshots != nil {
		if err := s.screenshots.Delete(ctx, item.ScreenshotKey); err != nil {
			log.Printf("feedback: screenshot %s for %d not removed: %v", item.ScreenshotKey, id, err)
		}
	}
	return nil
}

func (s *Service) FeedbackStats(ctx context.Context) (store.FeedbackStats, error) {
	return s.store.FeedbackStats(ctx)
}

func (s *Service) ListNotes(ctx context.Context, feedbackID int64) ([]NoteView, error) {
	if _, err := s.store.GetFeedback(ctx, feedbackID); err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Feedback")
		}
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, feedbackID)
	if err != nil {
		return nil, err
	}
	views := make([]NoteView, 0, len(notes))
	for _, note := range notes {
		views = append(views, noteView(note))
	}
	return views, nil
}

func (s *Service) AddNote(ctx context.Context, feedbackID int64, input AddNoteInput) (NoteView, error) {
	input.Body = strings.TrimSpace(input.Body)
	if err := s.check(input); err != nil {
		return NoteView{}, err
	}
	if _, err := s.store.GetFeedback(ctx, feedbackID); err != nil {
		if store.IsNotFound(err) {
			return NoteView{}, notFound("Feedback")
		}
		return NoteView{}, err
	}
	note, err := s.store.AddNote(ctx, feedbackID, strings.TrimSpace(input.Author), input.Body)
	if err != nil {
		return NoteView{}, err
	}
	if err := s.store.TouchFeedback(ctx, feedbackID); err != nil {
		return NoteView{}, err
	}
	return noteView(note), nil
}

func (s *Service) DeleteNote(ctx context.Context, feedbackID, noteID int64) error {
	deleted, err := s.store.DeleteNote(ctx, feedbackID, noteID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Note")
	}
	return nil
}

// Screenshot returns the image bytes and content type for a feedback item.
func (s *Service) Screenshot(ctx context.Context, feedbackID int64) ([]byte, string, error) {
	shot, err := s.store.GetScreenshot(ctx, feedbackID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", notFound("Screenshot")
		}
		return nil, "", err
	}
	if shot.Key != "" {
		if s.screenshots == nil {
			return nil, "", domainError(http.StatusServiceUnavailable, "STORAGE_NOT_CONFIGURED", "Screenshot storage is not configured", nil)
		}
		data, contentType, err := s.screenshots.Get(ctx, shot.Key)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return nil, "", notFound("Screenshot")
			}
			return nil, "", err
		}
		return data, contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode inline screenshot: %w", err)
	}
	return data, http.DetectContentType(data), nil
}
