package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/discovery/internal/auth"
	"github.com/onnwee/discovery/internal/jobs"
)

func TestRouter_AccessControl(t *testing.T) {
	jwt := auth.NewJWTService("router-test-secret")
	adminToken, err := jwt.GenerateAccessToken("admin-1", auth.RoleAdmin, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	reviewerToken, err := jwt.GenerateAccessToken("mod-1", auth.RoleReviewer, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	feedFix := newFeedFixture(t, testRecord("c1", "music", 0.9))
	flagFix := newFlagFixture(t)
	mux := NewRouter(Routes{
		Health: NewHealthHandlers(HealthHandlersConfig{}),
		Feed:   feedFix.handlers,
		Jobs:   NewJobHandlers(jobs.NewRunner(jobs.RunnerConfig{Logger: testLogger()})),
		Flags:  flagFix.handlers,
		Audit:  NewAuditHandlers(seedAudit(t), nil),
	}, jwt)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{name: "health is public", path: "/health", wantStatus: http.StatusOK},
		{name: "feed is public", path: "/feed?viewer_id=v1", wantStatus: http.StatusOK},
		{name: "admin route without token", path: "/admin/jobs", wantStatus: http.StatusUnauthorized},
		{name: "admin route as reviewer", path: "/admin/jobs", token: reviewerToken, wantStatus: http.StatusForbidden},
		{name: "admin route as admin", path: "/admin/jobs", token: adminToken, wantStatus: http.StatusOK},
		{name: "flags as reviewer", path: "/admin/flags", token: reviewerToken, wantStatus: http.StatusOK},
		{name: "flags as admin", path: "/admin/flags", token: adminToken, wantStatus: http.StatusOK},
		{name: "audit as reviewer", path: "/admin/audit", token: reviewerToken, wantStatus: http.StatusForbidden},
		{name: "unmounted route", path: "/admin/density", token: adminToken, wantStatus: http.StatusNotFound},
		{name: "unknown path", path: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}
