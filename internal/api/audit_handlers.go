package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/discovery/internal/archive"
	"github.com/onnwee/discovery/internal/audit"
)

// ExportArchive stores audit exports. *archive.Service satisfies it.
type ExportArchive interface {
	ArchiveAuditExport(ctx context.Context, contentType string, data []byte) (string, error)
}

// AuditHandlers exports the review audit log.
type AuditHandlers struct {
	repo    audit.Repository
	archive ExportArchive
}

// NewAuditHandlers creates a new AuditHandlers instance. exportArchive may be nil.
func NewAuditHandlers(repo audit.Repository, exportArchive ExportArchive) *AuditHandlers {
	return &AuditHandlers{repo: repo, archive: exportArchive}
}

// ArchivedExportResponse is returned when an export is written to object storage.
type ArchivedExportResponse struct {
	Key string `json:"key"`
}

// Export handles GET /admin/audit?format=csv|json&from=&to=&actor_id=&limit=.
// With archive=true the export is written to object storage and its key returned.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	opts := audit.ExportOptions{
		Format:  audit.ExportFormat(strings.ToLower(q.Get("format"))),
		ActorID: q.Get("actor_id"),
	}
	if opts.Format == "" {
		opts.Format = audit.ExportFormatJSON
	}
	if opts.Format != audit.ExportFormatJSON && opts.Format != audit.ExportFormatCSV {
		writeCodedError(w, r, ErrCodeValidation, "format must be csv or json")
		return
	}
	for name, dst := range map[string]*time.Time{"from": &opts.From, "to": &opts.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeCodedError(w, r, ErrCodeValidation, name+" must be an RFC3339 timestamp")
			return
		}
		*dst = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeCodedError(w, r, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	data, err := audit.ExportLogs(h.repo, opts)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to export audit logs", "error", err)
		writeCodedError(w, r, ErrCodeInternal, "Failed to export audit logs")
		return
	}

	contentType := archive.ContentTypeJSON
	if opts.Format == audit.ExportFormatCSV {
		contentType = archive.ContentTypeCSV
	}

	if q.Get("archive") == "true" {
		if h.archive == nil {
			writeCodedError(w, r, ErrCodeArchiveDisabled, "Report archive is not configured")
			return
		}
		key, err := h.archive.ArchiveAuditExport(r.Context(), contentType, data)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to archive audit export", "error", err)
			writeCodedError(w, r, ErrCodeInternal, "Failed to archive audit export")
			return
		}
		writeJSON(w, r.Context(), http.StatusCreated, ArchivedExportResponse{Key: key})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=audit."+string(opts.Format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write audit export", "error", err)
	}
}
