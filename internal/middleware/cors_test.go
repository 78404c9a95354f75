package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig([]string{"https://admin.example.com", " https://app.example.com "})
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name          string
		method        string
		origin        string
		preflight     bool
		wantStatus    int
		wantOrigin    string
		wantExposed   string
		wantMaxAge    string
		wantAllowHdrs bool
	}{
		{name: "same origin", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "allowed origin", method: http.MethodGet, origin: "https://admin.example.com", wantStatus: http.StatusOK,
			wantOrigin: "https://admin.example.com", wantExposed: "Retry-After, X-Request-ID"},
		{name: "trimmed origin", method: http.MethodGet, origin: "https://app.example.com", wantStatus: http.StatusOK,
			wantOrigin: "https://app.example.com", wantExposed: "Retry-After, X-Request-ID"},
		{name: "unknown origin", method: http.MethodGet, origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
		{name: "preflight", method: http.MethodOptions, origin: "https://app.example.com", preflight: true,
			wantStatus: http.StatusNoContent, wantOrigin: "https://app.example.com", wantMaxAge: "3600", wantAllowHdrs: true},
		{name: "preflight unknown origin", method: http.MethodOptions, origin: "https://evil.example.com", preflight: true,
			wantStatus: http.StatusForbidden},
		{name: "plain options passes through", method: http.MethodOptions, origin: "https://app.example.com",
			wantStatus: http.StatusOK, wantOrigin: "https://app.example.com", wantExposed: "Retry-After, X-Request-ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/feed?viewer_id=v1", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Expose-Headers"); got != tt.wantExposed {
				t.Errorf("Expose-Headers = %q, want %q", got, tt.wantExposed)
			}
			if got := w.Header().Get("Access-Control-Max-Age"); got != tt.wantMaxAge {
				t.Errorf("Max-Age = %q, want %q", got, tt.wantMaxAge)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers") != ""; got != tt.wantAllowHdrs {
				t.Errorf("Allow-Headers present = %v, want %v", got, tt.wantAllowHdrs)
			}
			if tt.wantOrigin != "" && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentials should be allowed for listed origins")
			}
			if w.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", w.Header().Get("Vary"))
			}
		})
	}
}

func TestCORS_DisabledWithoutOrigins(t *testing.T) {
	handler := CORS(DefaultCORSConfig(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" || w.Header().Get("Vary") != "" {
		t.Errorf("unexpected CORS headers: %v", w.Header())
	}
}
