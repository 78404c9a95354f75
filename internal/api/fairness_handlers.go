package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/discovery/internal/archive"
	"github.com/onnwee/discovery/internal/fairness"
	"github.com/onnwee/discovery/internal/jobs"
)

// Report listing bounds.
const (
	defaultReportLimit = 20
	maxReportLimit     = 200
)

// ReportArchive locates archived reports. *archive.Service satisfies it.
type ReportArchive interface {
	ReportKey(r *fairness.Report) (string, error)
	SignedURL(ctx context.Context, key string) (*archive.SignedURL, error)
}

// FairnessHandlers serves the fairness report admin routes.
type FairnessHandlers struct {
	reports fairness.Store
	runner  *jobs.Runner
	archive ReportArchive
}

// NewFairnessHandlers creates a new FairnessHandlers instance. archive may
// be nil when object storage is not configured.
func NewFairnessHandlers(reports fairness.Store, runner *jobs.Runner, reportArchive ReportArchive) *FairnessHandlers {
	return &FairnessHandlers{reports: reports, runner: runner, archive: reportArchive}
}

// ReportListResponse is the body of GET /admin/fairness/reports.
type ReportListResponse struct {
	Reports []*fairness.Report `json:"reports"`
	Count   int                `json:"count"`
}

// GetLatestReport handles GET /admin/fairness/report.
func (h *FairnessHandlers) GetLatestReport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	report, err := h.reports.Latest(r.Context())
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, report)
}

// Reports routes /admin/fairness/reports, /admin/fairness/reports/{id} and
// /admin/fairness/reports/{id}/archive.
func (h *FairnessHandlers) Reports(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/fairness/reports"), "/")
	if rest == "" {
		h.listReports(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		h.getReport(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "archive":
		h.archiveURL(w, r, parts[0])
	default:
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
	}
}

func (h *FairnessHandlers) listReports(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := defaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReportLimit {
			writeCodedError(w, r, ErrCodeValidation, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	reports, err := h.reports.List(r.Context(), limit)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	if reports == nil {
		reports = []*fairness.Report{}
	}
	writeJSON(w, r.Context(), http.StatusOK, ReportListResponse{Reports: reports, Count: len(reports)})
}

func (h *FairnessHandlers) getReport(w http.ResponseWriter, r *http.Request, id string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	report, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, report)
}

// archiveURL returns a pre-signed download URL for an archived report.
func (h *FairnessHandlers) archiveURL(w http.ResponseWriter, r *http.Request, id string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if h.archive == nil {
		writeCodedError(w, r, ErrCodeArchiveDisabled, "Report archive is not configured")
		return
	}
	report, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	key, err := h.archive.ReportKey(report)
	if err != nil {
		writeCodedError(w, r, ErrCodeValidation, "Report cannot be archived")
		return
	}
	signed, err := h.archive.SignedURL(r.Context(), key)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to sign archive url", "error", err, "report_id", id)
		writeCodedError(w, r, ErrCodeInternal, "Failed to sign archive URL")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, signed)
}

// TriggerAudit handles POST /admin/fairness/audit, running the audit job
// out of schedule. A failed run still returns its report.
func (h *FairnessHandlers) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	runJob(w, r, h.runner, jobs.JobTypeFairnessAudit)
}

func (h *FairnessHandlers) writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, fairness.ErrReportNotFound) {
		writeCodedError(w, r, ErrCodeNotFound, "Report not found")
		return
	}
	slog.ErrorContext(r.Context(), "failed to read fairness reports", "error", err)
	writeCodedError(w, r, ErrCodeInternal, "Failed to read fairness reports")
}
