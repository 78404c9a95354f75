package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/discovery/internal/manipulation"
	"github.com/onnwee/discovery/internal/middleware"
)

// FlagHandlers serves the manipulation flag review queue.
type FlagHandlers struct {
	detector *manipulation.Detector
}

// NewFlagHandlers creates a new FlagHandlers instance.
func NewFlagHandlers(detector *manipulation.Detector) *FlagHandlers {
	return &FlagHandlers{detector: detector}
}

// ResolveFlagRequest is the body of POST /admin/flags/{id}/resolve.
type ResolveFlagRequest struct {
	Decision manipulation.Status `json:"decision"`
}

// FlagListResponse is the body of GET /admin/flags.
type FlagListResponse struct {
	Flags []*manipulation.Flag `json:"flags"`
	Count int                  `json:"count"`
}

// ListFlags handles GET /admin/flags?status=&creator_id=&limit=.
func (h *FlagHandlers) ListFlags(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	filter := manipulation.ListFilter{
		Status:    manipulation.Status(strings.ToUpper(q.Get("status"))),
		CreatorID: q.Get("creator_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeCodedError(w, r, ErrCodeValidation, "Unknown flag status")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeCodedError(w, r, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	flags, err := h.detector.ListFlags(r.Context(), filter)
	if err != nil {
		h.writeFlagError(w, r, err)
		return
	}
	if flags == nil {
		flags = []*manipulation.Flag{}
	}
	writeJSON(w, r.Context(), http.StatusOK, FlagListResponse{Flags: flags, Count: len(flags)})
}

// Flag routes POST /admin/flags/{id}/review and POST /admin/flags/{id}/resolve.
// The reviewer is the authenticated actor.
func (h *FlagHandlers) Flag(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/admin/flags/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
		return
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	flagID := parts[0]
	if !requireID(w, r, "flag_id", flagID) {
		return
	}
	reviewer := middleware.GetActorID(r.Context())

	var (
		flag *manipulation.Flag
		err  error
	)
	switch parts[1] {
	case "review":
		flag, err = h.detector.StartReview(r.Context(), flagID, reviewer)
	case "resolve":
		var body ResolveFlagRequest
		if decErr := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); decErr != nil {
			writeCodedError(w, r, ErrCodeBadRequest, "Invalid JSON body")
			return
		}
		decision := manipulation.Status(strings.ToUpper(string(body.Decision)))
		flag, err = h.detector.Resolve(r.Context(), flagID, reviewer, decision)
	default:
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
		return
	}
	if err != nil {
		h.writeFlagError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, flag)
}

func (h *FlagHandlers) writeFlagError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, manipulation.ErrFlagNotFound):
		writeCodedError(w, r, ErrCodeNotFound, "Flag not found")
	case errors.Is(err, manipulation.ErrInvalidTransition):
		writeCodedError(w, r, ErrCodeConflict, err.Error())
	case errors.Is(err, manipulation.ErrEmptyReviewer):
		writeCodedError(w, r, ErrCodeAuthFailed, "Reviewer identity is required")
	default:
		slog.ErrorContext(r.Context(), "flag operation failed", "error", err, "path", r.URL.Path)
		writeCodedError(w, r, ErrCodeInternal, "Internal server error")
	}
}
