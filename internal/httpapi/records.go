package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/glance/internal/records"
)

type createRecordRequest struct {
	UserID      string               `json:"userId"`
	SessionID   string               `json:"sessionId,omitempty"`
	Title       string               `json:"title,omitempty"`
	Goal        string               `json:"goal,omitempty"`
	Messages    []records.Message    `json:"messages"`
	ScreenSteps []records.ScreenStep `json:"screenSteps"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, http.StatusServiceUnavailable, "records_unavailable", "record storage is not configured")
		return
	}
	var req createRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	saved, err := s.records.Save(r.Context(), records.Redact(records.Record{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Title:       req.Title,
		Goal:        req.Goal,
		Messages:    req.Messages,
		ScreenSteps: req.ScreenSteps,
	}))
	if err != nil {
		s.metrics.RecordsPersists.WithLabelValues("failed").Inc()
		if errors.Is(err, records.ErrInvalid) {
			respondError(w, http.StatusBadRequest, "invalid_record", err.Error())
			return
		}
		s.logger.WithError(err).Error("record save failed")
		respondError(w, http.StatusInternalServerError, "records_failed", "failed to save record")
		return
	}
	s.metrics.RecordsPersists.WithLabelValues("saved").Inc()
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":          saved.ID,
		"piiRedacted": saved.PIIRedacted,
		"createdAt":   saved.CreatedAt,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, http.StatusServiceUnavailable, "records_unavailable", "record storage is not configured")
		return
	}
	rec, err := s.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		s.logger.WithError(err).Error("record lookup failed")
		respondError(w, http.StatusInternalServerError, "records_failed", "failed to load record")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, http.StatusServiceUnavailable, "records_unavailable", "record storage is not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.records.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.WithError(err).Error("record list failed")
		respondError(w, http.StatusInternalServerError, "records_failed", "failed to list records")
		return
	}
	if list == nil {
		list = []records.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(list),
		"records": list,
	})
}
