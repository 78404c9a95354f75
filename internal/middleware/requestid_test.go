package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name      string
		inbound   string
		wantReuse bool
	}{
		{name: "no header", inbound: ""},
		{name: "well-formed header", inbound: "edge-7f3a.2", wantReuse: true},
		{name: "header with newline", inbound: "abc\nlevel=ERROR"},
		{name: "header with spaces", inbound: "abc def"},
		{name: "oversized header", inbound: strings.Repeat("a", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inContext string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inContext = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got != inContext {
				t.Errorf("header %q != context %q", got, inContext)
			}
			if tt.wantReuse {
				if got != tt.inbound {
					t.Errorf("request ID = %q, want inbound %q", got, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("request ID %q is not a generated UUID", got)
			}
		})
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}
