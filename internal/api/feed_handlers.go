package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/discovery/internal/activity"
	"github.com/onnwee/discovery/internal/feed"
	"github.com/onnwee/discovery/internal/interest"
	"github.com/onnwee/discovery/internal/middleware"
	"github.com/onnwee/discovery/internal/validate"
)

// maxBodyBytes bounds request bodies on viewer routes.
const maxBodyBytes = 64 << 10

// FeedHandlers serves the viewer-facing routes.
type FeedHandlers struct {
	service  *feed.Service
	profiles interest.Store
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(service *feed.Service, profiles interest.Store) *FeedHandlers {
	return &FeedHandlers{service: service, profiles: profiles}
}

// SwitchModeRequest is the body of POST /viewers/{id}/mode.
type SwitchModeRequest struct {
	Mode string `json:"mode"`
}

// SwitchModeResponse confirms the stored mode.
type SwitchModeResponse struct {
	ViewerID string `json:"viewer_id"`
	Mode     string `json:"mode"`
}

// RecordViewRequest is the body of POST /views.
type RecordViewRequest struct {
	ViewerID   string    `json:"viewer_id"`
	CreatorID  string    `json:"creator_id"`
	Category   string    `json:"category"`
	DurationMs int64     `json:"duration_ms"`
	Language   string    `json:"language,omitempty"`
	Region     string    `json:"region,omitempty"`
	At         time.Time `json:"at,omitempty"`
}

// GetFeed handles GET /feed.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	req := feed.Request{
		ViewerID:  q.Get("viewer_id"),
		Mode:      q.Get("mode"),
		Cursor:    q.Get("cursor"),
		SessionID: q.Get("session_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeCodedError(w, r, ErrCodeValidation, "limit must be an integer")
			return
		}
		req.Limit = limit
	}

	page, err := h.service.GetFeed(r.Context(), req)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, page)
}

// Viewer routes /viewers/{id} and /viewers/{id}/mode.
func (h *FeedHandlers) Viewer(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/viewers/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeCodedError(w, r, ErrCodeBadRequest, "Viewer ID is required")
		return
	}
	viewerID := parts[0]
	if !requireID(w, r, "viewer_id", viewerID) {
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "mode":
		h.switchMode(w, r, viewerID)
	case len(parts) == 1:
		h.eraseViewer(w, r, viewerID)
	default:
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
	}
}

// switchMode handles POST /viewers/{id}/mode.
func (h *FeedHandlers) switchMode(w http.ResponseWriter, r *http.Request, viewerID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body SwitchModeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := h.service.SwitchMode(r.Context(), viewerID, body.Mode); err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, SwitchModeResponse{ViewerID: viewerID, Mode: body.Mode})
}

// eraseViewer handles DELETE /viewers/{id}, removing the interest profile.
func (h *FeedHandlers) eraseViewer(w http.ResponseWriter, r *http.Request, viewerID string) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	if err := h.profiles.Erase(r.Context(), viewerID); err != nil {
		slog.ErrorContext(r.Context(), "failed to erase interest profile", "error", err, "viewer_id", viewerID)
		writeCodedError(w, r, ErrCodeInternal, "Failed to erase viewer profile")
		return
	}
	slog.InfoContext(r.Context(), "interest profile erased", "viewer_id", viewerID)
	w.WriteHeader(http.StatusNoContent)
}

// RecordView handles POST /views. The optional Idempotency-Key header makes
// client retries count once.
func (h *FeedHandlers) RecordView(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body RecordViewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if !requireID(w, r, "viewer_id", body.ViewerID) || !requireID(w, r, "creator_id", body.CreatorID) {
		return
	}
	category, err := validate.Category(body.Category)
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "category is invalid: "+err.Error())
		return
	}
	view := activity.View{
		ViewerID:   body.ViewerID,
		CreatorID:  body.CreatorID,
		Category:   category,
		DurationMs: body.DurationMs,
		ClientKey:  middleware.GetIdempotencyKey(r.Context()),
		Language:   body.Language,
		Region:     body.Region,
		At:         body.At,
	}
	if err := h.service.RecordContentView(r.Context(), view); err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *FeedHandlers) writeFeedError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *feed.ValidationError
	switch {
	case errors.As(err, &verr):
		writeCodedError(w, r, ErrCodeValidation, verr.Error())
	case errors.Is(err, feed.ErrFeedUnavailable):
		w.Header().Set("Retry-After", "30")
		writeCodedError(w, r, ErrCodeFeedUnavailable, "Feed temporarily unavailable")
	default:
		slog.ErrorContext(r.Context(), "feed request failed", "error", err, "path", r.URL.Path)
		writeCodedError(w, r, ErrCodeInternal, "Internal server error")
	}
}
