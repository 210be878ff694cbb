package app

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"lumen/api/internal/extsync"
)

func (s *HTTPServer) handleFeedback(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodPost:
			s.submitFeedback(w, r)
		case http.MethodGet:
			if s.requireAdmin(w, r) {
				s.listFeedback(w, r)
			}
		default:
			methodNotAllowed(w)
		}
		return
	}

	if !s.requireAdmin(w, r) {
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "stats":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		stats, err := s.service.FeedbackStats(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case len(parts) == 1 && parts[0] == "sync":
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		result, err := s.service.RunSync(r.Context())
		if err != nil {
			writeSyncError(w, r, err, result)
			return
		}
		writeJSON(w, http.StatusOK, syncResponse{Success: true, RunResult: result})
	case len(parts) == 1:
		id, err := parseID(parts[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetFeedback(r.Context(), id, queryBool(r, "includeRecentLogs"))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		case http.MethodPatch:
			s.updateFeedback(w, r, id)
		case http.MethodDelete:
			if err := s.service.DeleteFeedback(r.Context(), id); err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		default:
			methodNotAllowed(w)
		}
	case len(parts) >= 2 && parts[1] == "notes":
		id, err := parseID(parts[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		s.handleNotes(w, r, id, parts[2:])
	case len(parts) == 2 && parts[1] == "screenshot":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id, err := parseID(parts[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		data, contentType, err := s.service.Screenshot(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// submitFeedback is public for in-app reports. Synced or manual sources are
// dashboard-only and skip the per-IP limit.
func (s *HTTPServer) submitFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFeedbackBody)
	var body SubmitFeedbackInput
	if err := decodeBody(r, &body); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "too large") {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	source := strings.TrimSpace(body.ExternalSource)
	if source != "" && source != "app" {
		if !s.requireAdmin(w, r) {
			return
		}
	} else if err := s.service.AllowFeedback(r.Context(), clientFromRequest(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	id, err := s.service.SubmitFeedback(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Feedback submitted successfully",
		"id":      id,
	})
}

func (s *HTTPServer) listFeedback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page, err := s.service.ListFeedback(r.Context(), ListFeedbackInput{
		Type:     query.Get("type"),
		Status:   query.Get("status"),
		Priority: query.Get("priority"),
		Search:   query.Get("search"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// updateFeedback attaches the error message and stack to unexpected
// failures so the dashboard can show them.
func (s *HTTPServer) updateFeedback(w http.ResponseWriter, r *http.Request, id int64) {
	var body UpdateFeedbackInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	detail, err := s.service.UpdateFeedback(r.Context(), id, body)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			log.Printf("http: update feedback %d failed: %v", id, err)
			details = debugDetails(err)
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "feedback": detail})
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, feedbackID int64, rest []string) {
	if len(rest) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		noteID, err := parseID(rest[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if err := s.service.DeleteNote(r.Context(), feedbackID, noteID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if len(rest) > 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		notes, err := s.service.ListNotes(r.Context(), feedbackID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
	case http.MethodPost:
		var body AddNoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		note, err := s.service.AddNote(r.Context(), feedbackID, body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "note": note})
	default:
		methodNotAllowed(w)
	}
}

// writeSyncError reports a failed run together with whatever the run
// managed to record before it stopped.
func writeSyncError(w http.ResponseWriter, r *http.Request, err error, result extsync.RunResult) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeServiceError(w, r, err)
		return
	}
	log.Printf("sync: run failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, syncResponse{
		Success:   false,
		Code:      "SYNC_FAILED",
		Error:     "Feedback sync failed",
		Details:   map[string]any{"message": err.Error()},
		RunResult: result,
	})
}

// syncResponse flattens the run result next to the envelope fields.
type syncResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
	extsync.RunResult
}

func (s *HTTPServer) handleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body TrackDownloadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		deduplicated, err := s.service.TrackDownload(r.Context(), clientFromRequest(r), body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if deduplicated {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "deduplicated": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Download tracked"})
	case http.MethodGet:
		if !s.requireAdmin(w, r) {
			return
		}
		days, err := queryInt(r, "days")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		stats, err := s.service.DownloadStats(r.Context(), days)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleR2Analytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	days, err := queryInt(r, "days")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	summary, err := s.service.R2Analytics(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleIntegrations(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch parts[0] + "/" + parts[1] {
	case "github/issues":
		if !s.requireAdmin(w, r) {
			return
		}
		items, err := s.service.GitHubIssues(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "issues": items})
	case "featurebase/posts":
		if !s.requireAdmin(w, r) {
			return
		}
		fetch, err := s.service.FeaturebasePosts(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(fetch.Items),
			"posts":   fetch.Items,
			"skipped": fetch.Skipped,
			"failed":  fetch.Failed,
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
