package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "root path", path: "/", expected: "/"},
		{name: "feed", path: "/feed", expected: "/feed"},
		{name: "views", path: "/views", expected: "/views"},
		{name: "health endpoint", path: "/health", expected: "/health"},
		{name: "metrics endpoint", path: "/metrics", expected: "/metrics"},
		{name: "fairness report", path: "/admin/fairness/report", expected: "/admin/fairness/report"},
		{name: "report stream", path: "/admin/fairness/reports/stream", expected: "/admin/fairness/reports/stream"},

		{name: "viewer mode", path: "/viewers/v-123/mode", expected: "/viewers/{id}/mode"},
		{name: "viewer profile", path: "/viewers/v-123", expected: "/viewers/{id}"},
		{name: "flag review", path: "/admin/flags/f1/review", expected: "/admin/flags/{id}/review"},
		{name: "flag resolve", path: "/admin/flags/f1/resolve", expected: "/admin/flags/{id}/resolve"},
		{name: "flag detail", path: "/admin/flags/f1", expected: "/admin/flags/{id}"},
		{name: "report detail", path: "/admin/fairness/reports/r1", expected: "/admin/fairness/reports/{id}"},
		{name: "report archive", path: "/admin/fairness/reports/r1/archive", expected: "/admin/fairness/reports/{id}/archive"},
		{name: "creator density", path: "/admin/density/c9", expected: "/admin/density/{id}"},
		{name: "job trigger", path: "/admin/jobs/fairness_audit/run", expected: "/admin/jobs/{name}/run"},

		{name: "unknown viewer action", path: "/viewers/v-123/block", expected: "/viewers/v-123/block"},
		{name: "empty viewer id", path: "/viewers//mode", expected: "/viewers//mode"},
		{name: "unknown route", path: "/unknown/path", expected: "/unknown/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := normalizePath(tt.path); result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	paths := []string{
		"/viewers/1/mode",
		"/viewers/2/mode",
		"/viewers/550e8400-e29b-41d4-a716-446655440000/mode",
		"/viewers/abc-def-ghi/mode",
	}

	seen := make(map[string]bool)
	for _, path := range paths {
		result := normalizePath(path)
		if result != "/viewers/{id}/mode" {
			t.Errorf("normalizePath(%q) = %q", path, result)
		}
		seen[result] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected a single pattern, got %d: %v", len(seen), seen)
	}
}
