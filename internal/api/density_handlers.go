package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/discovery/internal/density"
	"github.com/onnwee/discovery/internal/tuning"
)

// DensityHandlers serves shadow-density diagnostics.
type DensityHandlers struct {
	rotation *density.Controller
}

// NewDensityHandlers creates a new DensityHandlers instance.
func NewDensityHandlers(rotation *density.Controller) *DensityHandlers {
	return &DensityHandlers{rotation: rotation}
}

// DensityStatsResponse is the body of GET /admin/density.
type DensityStatsResponse struct {
	Generation  int64           `json:"generation"`
	BuiltAt     time.Time       `json:"built_at"`
	Params      tuning.Params   `json:"params"`
	Limited     int             `json:"limited"`
	UnderServed int             `json:"under_served"`
	Creators    []density.State `json:"creators"`
}

// GetStats handles GET /admin/density, most exposed creators first.
// ?rotation=LIMITED narrows the listing.
func (h *DensityHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	table := h.rotation.Table()
	if table == nil {
		writeCodedError(w, r, ErrCodeFeedUnavailable, "Rotation table has not been built yet")
		return
	}

	filter := density.Rotation(strings.ToUpper(r.URL.Query().Get("rotation")))
	if filter != "" && filter != density.RotationNormal && filter != density.RotationLimited {
		writeCodedError(w, r, ErrCodeValidation, "rotation must be NORMAL or LIMITED")
		return
	}

	resp := DensityStatsResponse{
		Generation: table.Generation,
		BuiltAt:    table.BuiltAt,
		Params:     table.Params,
		Creators:   []density.State{},
	}
	for _, st := range table.States() {
		if st.Rotation == density.RotationLimited {
			resp.Limited++
		}
		if st.UnderServed {
			resp.UnderServed++
		}
		if filter == "" || st.Rotation == filter {
			resp.Creators = append(resp.Creators, st)
		}
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}

// GetCreator handles GET /admin/density/{id}.
func (h *DensityHandlers) GetCreator(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	creatorID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/density/"), "/")
	if creatorID == "" || strings.Contains(creatorID, "/") {
		writeCodedError(w, r, ErrCodeBadRequest, "Creator ID is required")
		return
	}
	if !requireID(w, r, "creator_id", creatorID) {
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.rotation.GetRotationState(creatorID))
}
