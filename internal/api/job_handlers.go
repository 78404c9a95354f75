package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/discovery/internal/jobs"
	"github.com/onnwee/discovery/internal/middleware"
)

// JobHandlers exposes the scheduled job runner.
type JobHandlers struct {
	runner *jobs.Runner
}

// NewJobHandlers creates a new JobHandlers instance.
func NewJobHandlers(runner *jobs.Runner) *JobHandlers {
	return &JobHandlers{runner: runner}
}

// JobStatusResponse is the body of GET /admin/jobs.
type JobStatusResponse struct {
	Last []jobs.RunReport     `json:"last"`
	Next map[string]time.Time `json:"next"`
}

// ListJobs handles GET /admin/jobs.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, JobStatusResponse{
		Last: h.runner.Reports(),
		Next: h.runner.Next(),
	})
}

// RunJob handles POST /admin/jobs/{name}/run.
func (h *JobHandlers) RunJob(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/admin/jobs/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "run" {
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
		return
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	runJob(w, r, h.runner, parts[0])
}

// runJob runs a job now and writes its report. Task failures are reported
// in the body with status "failure".
func runJob(w http.ResponseWriter, r *http.Request, runner *jobs.Runner, name string) {
	slog.InfoContext(r.Context(), "job triggered manually",
		"job", name,
		"actor_id", middleware.GetActorID(r.Context()))

	report, err := runner.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		writeCodedError(w, r, ErrCodeNotFound, "Job not found")
		return
	case errors.Is(err, jobs.ErrJobRunning):
		writeCodedError(w, r, ErrCodeConflict, "Job is already running")
		return
	case report == nil:
		slog.ErrorContext(r.Context(), "job run failed", "job", name, "error", err)
		writeCodedError(w, r, ErrCodeInternal, "Job run failed")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, report)
}
