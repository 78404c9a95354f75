package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/discovery/internal/archive"
	"github.com/onnwee/discovery/internal/audit"
)

type fakeExportArchive struct {
	contentType string
	data        []byte
	err         error
}

func (f *fakeExportArchive) ArchiveAuditExport(_ context.Context, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.contentType = contentType
	f.data = data
	return "fairness/audit/export.json", nil
}

func seedAudit(t *testing.T) *audit.InMemoryRepository {
	t.Helper()
	repo := audit.NewInMemoryRepository()
	entries := []audit.LogEntry{
		{ActorID: "mod-1", EntityType: audit.EntityFlag, EntityID: "f1", Action: audit.ActionFlagStartReview},
		{ActorID: "mod-1", EntityType: audit.EntityFlag, EntityID: "f1", Action: audit.ActionFlagConfirm},
		{ActorID: "system", EntityType: audit.EntityTuning, EntityID: "params", Action: audit.ActionTuningCorrect},
	}
	for _, e := range entries {
		if _, err := repo.Log(e); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}
	return repo
}

func TestAuditExport(t *testing.T) {
	h := NewAuditHandlers(seedAudit(t), nil)

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantType    string
		wantEntries int
	}{
		{name: "default json", query: "", wantStatus: http.StatusOK, wantType: archive.ContentTypeJSON, wantEntries: 3},
		{name: "by actor", query: "?actor_id=mod-1", wantStatus: http.StatusOK, wantType: archive.ContentTypeJSON, wantEntries: 2},
		{name: "limited", query: "?limit=1", wantStatus: http.StatusOK, wantType: archive.ContentTypeJSON, wantEntries: 1},
		{name: "window before all entries", query: "?to=2000-01-01T00:00:00Z", wantStatus: http.StatusOK, wantType: archive.ContentTypeJSON, wantEntries: 0},
		{name: "csv", query: "?format=CSV", wantStatus: http.StatusOK, wantType: archive.ContentTypeCSV},
		{name: "bad format", query: "?format=xml", wantStatus: http.StatusBadRequest},
		{name: "bad from", query: "?from=yesterday", wantStatus: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "archive disabled", query: "?archive=true", wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Export(w, httptest.NewRequest(http.MethodGet, "/admin/audit"+tt.query, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantType == "" {
				return
			}
			if ct := w.Header().Get("Content-Type"); ct != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if !strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment;") {
				t.Errorf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
			}
			if tt.wantType == archive.ContentTypeCSV {
				lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
				if len(lines) != 4 || !strings.HasPrefix(lines[0], "ID,") {
					t.Errorf("csv export = %q", w.Body.String())
				}
				return
			}
			var entries []map[string]any
			if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(entries) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(entries), tt.wantEntries)
			}
		})
	}
}

func TestAuditExport_Archive(t *testing.T) {
	store := &fakeExportArchive{}
	h := NewAuditHandlers(seedAudit(t), store)

	w := httptest.NewRecorder()
	h.Export(w, httptest.NewRequest(http.MethodGet, "/admin/audit?archive=true", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	var resp ArchivedExportResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Key == "" {
		t.Error("empty archive key")
	}
	if store.contentType != archive.ContentTypeJSON || len(store.data) == 0 {
		t.Errorf("archived %q with %d bytes", store.contentType, len(store.data))
	}

	failing := NewAuditHandlers(seedAudit(t), &fakeExportArchive{err: errors.New("bucket unreachable")})
	w = httptest.NewRecorder()
	failing.Export(w, httptest.NewRequest(http.MethodGet, "/admin/audit?archive=true", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failing archive status = %d, want 500", w.Code)
	}
}
