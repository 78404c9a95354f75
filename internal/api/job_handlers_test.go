package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/discovery/internal/jobs"
)

func newTestRunner(t *testing.T, tasks map[string]jobs.Task) *jobs.Runner {
	t.Helper()
	runner := jobs.NewRunner(jobs.RunnerConfig{Logger: testLogger(), Now: func() time.Time { return testNow }})
	for name, task := range tasks {
		if err := runner.Add(jobs.Job{Name: name, Schedule: "@every 5m", Task: task}); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	return runner
}

func TestRunJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := newTestRunner(t, map[string]jobs.Task{
		jobs.JobTypeRelevanceRefresh: func(ctx context.Context) (any, error) {
			return map[string]int{"computed": 4}, nil
		},
		"broken": func(ctx context.Context) (any, error) {
			return nil, errors.New("upstream offline")
		},
		"slow": func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	})
	h := NewJobHandlers(runner)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantReport string
	}{
		{name: "success", method: http.MethodPost, path: "/admin/jobs/relevance_refresh/run", wantStatus: http.StatusOK, wantReport: jobs.StatusSuccess},
		{name: "task failure", method: http.MethodPost, path: "/admin/jobs/broken/run", wantStatus: http.StatusOK, wantReport: jobs.StatusFailure},
		{name: "unknown job", method: http.MethodPost, path: "/admin/jobs/nope/run", wantStatus: http.StatusNotFound},
		{name: "missing action", method: http.MethodPost, path: "/admin/jobs/broken", wantStatus: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/admin/jobs/broken/run", wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.RunJob(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantReport == "" {
				return
			}
			var report jobs.RunReport
			if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if report.Status != tt.wantReport {
				t.Errorf("report status = %q, want %q", report.Status, tt.wantReport)
			}
			if tt.wantReport == jobs.StatusFailure && report.Error == "" {
				t.Error("failed report has no error")
			}
		})
	}

	t.Run("already running", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = runner.RunNow(context.Background(), "slow")
		}()
		<-started

		w := httptest.NewRecorder()
		h.RunJob(w, httptest.NewRequest(http.MethodPost, "/admin/jobs/slow/run", nil))
		close(release)
		<-done

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})
}

func TestListJobs(t *testing.T) {
	runner := newTestRunner(t, map[string]jobs.Task{
		jobs.JobTypeFairnessAudit: func(ctx context.Context) (any, error) { return nil, nil },
	})
	if _, err := runner.RunNow(context.Background(), jobs.JobTypeFairnessAudit); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	h := NewJobHandlers(runner)

	w := httptest.NewRecorder()
	h.ListJobs(w, httptest.NewRequest(http.MethodGet, "/admin/jobs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp JobStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Last) != 1 || resp.Last[0].Job != jobs.JobTypeFairnessAudit {
		t.Errorf("last = %+v", resp.Last)
	}

	w = httptest.NewRecorder()
	h.ListJobs(w, httptest.NewRequest(http.MethodDelete, "/admin/jobs", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", w.Code)
	}
}
