package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/discovery/internal/density"
)

func TestDensity_GetStats(t *testing.T) {
	rotation := newTestRotation(t, map[string]int64{
		"big":   5_000_000,
		"mid":   1_000,
		"small": 10,
	})
	h := NewDensityHandlers(rotation)

	tests := []struct {
		name         string
		query        string
		wantStatus   int
		wantCreators []string
	}{
		{name: "all creators", query: "", wantStatus: http.StatusOK, wantCreators: []string{"big", "mid", "small"}},
		{name: "limited only", query: "?rotation=limited", wantStatus: http.StatusOK, wantCreators: []string{"big"}},
		{name: "normal only", query: "?rotation=NORMAL", wantStatus: http.StatusOK, wantCreators: []string{"mid", "small"}},
		{name: "unknown rotation", query: "?rotation=boosted", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetStats(w, httptest.NewRequest(http.MethodGet, "/admin/density"+tt.query, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCreators == nil {
				return
			}
			var resp DensityStatsResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Generation != 1 || resp.Limited != 1 || resp.UnderServed != 1 {
				t.Errorf("summary = gen %d limited %d under-served %d", resp.Generation, resp.Limited, resp.UnderServed)
			}
			if resp.Params.DensityThreshold != testParams().DensityThreshold {
				t.Errorf("threshold = %d", resp.Params.DensityThreshold)
			}
			if len(resp.Creators) != len(tt.wantCreators) {
				t.Fatalf("creators = %d, want %d", len(resp.Creators), len(tt.wantCreators))
			}
			for i, id := range tt.wantCreators {
				if resp.Creators[i].CreatorID != id {
					t.Errorf("creators[%d] = %s, want %s", i, resp.Creators[i].CreatorID, id)
				}
			}
		})
	}
}

func TestDensity_GetStatsBeforeBuild(t *testing.T) {
	h := NewDensityHandlers(newTestRotation(t, nil))

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/admin/density", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDensity_GetCreator(t *testing.T) {
	rotation := newTestRotation(t, map[string]int64{"big": 5_000_000, "small": 10})
	h := NewDensityHandlers(rotation)

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantRotation density.Rotation
	}{
		{name: "limited creator", path: "/admin/density/big", wantStatus: http.StatusOK, wantRotation: density.RotationLimited},
		{name: "normal creator", path: "/admin/density/small", wantStatus: http.StatusOK, wantRotation: density.RotationNormal},
		{name: "unknown creator", path: "/admin/density/new", wantStatus: http.StatusOK, wantRotation: density.RotationNormal},
		{name: "missing id", path: "/admin/density/", wantStatus: http.StatusBadRequest},
		{name: "nested path", path: "/admin/density/a/b", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetCreator(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantRotation == "" {
				return
			}
			var st density.State
			if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if st.Rotation != tt.wantRotation {
				t.Errorf("rotation = %s, want %s", st.Rotation, tt.wantRotation)
			}
			if tt.wantRotation == density.RotationLimited && st.DensityPenalty <= 0 {
				t.Error("limited creator has no density penalty")
			}
		})
	}
}
