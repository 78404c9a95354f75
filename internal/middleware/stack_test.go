package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/discovery/internal/middleware"
)

// newStack assembles the server's middleware chain around a handler that
// echoes the idempotency key it observed.
func newStack(t *testing.T, logs *bytes.Buffer) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	metrics := middleware.NewMetrics()
	if err := metrics.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Key", middleware.GetIdempotencyKey(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	})

	var h http.Handler = app
	h = middleware.IdempotencyKey(map[string]bool{"/views": true})(h)
	h = middleware.RateLimiter(middleware.NewInMemoryRateLimitStore(), []middleware.RouteLimit{
		{Prefix: "/views", Config: middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}},
	}, middleware.RouteLimit{Config: middleware.DefaultFeedLimit()}, metrics)(h)
	h = middleware.CORS(middleware.DefaultCORSConfig([]string{"https://app.example.com"}))(h)
	h = middleware.HTTPMetrics(metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID(h)
	return h
}

func lastLogLine(t *testing.T, logs *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	return entry
}

func TestStack_ViewSubmission(t *testing.T) {
	logs := &bytes.Buffer{}
	stack := newStack(t, logs)

	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/views", strings.NewReader(`{}`))
		req.RemoteAddr = "10.1.2.3:4000"
		req.Header.Set("Origin", "https://app.example.com")
		if key != "" {
			req.Header.Set(middleware.IdempotencyKeyHeader, key)
		}
		w := httptest.NewRecorder()
		stack.ServeHTTP(w, req)
		return w
	}

	w := post("view-0001")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if w.Header().Get("X-Seen-Key") != "view-0001" {
		t.Errorf("handler saw key %q", w.Header().Get("X-Seen-Key"))
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("CORS headers missing")
	}
	requestID := w.Header().Get(middleware.RequestIDHeader)
	entry := lastLogLine(t, logs)
	if entry["request_id"] != requestID || entry["path"] != "/views" {
		t.Errorf("log entry = %v, want request_id %s", entry, requestID)
	}

	if w := post(strings.Repeat("k", 65)); w.Code != http.StatusBadRequest {
		t.Errorf("oversized key status = %d, want 400", w.Code)
	}
	if entry := lastLogLine(t, logs); entry["error_code"] != "idempotency_key_too_long" {
		t.Errorf("error_code = %v", entry["error_code"])
	}

	// The rejected-key request consumed the second slot of the window.
	w = post("view-0003")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if entry := lastLogLine(t, logs); entry["error_code"] != "rate_limited" {
		t.Errorf("error_code = %v, want rate_limited", entry["error_code"])
	}
}

func TestStack_RejectsForeignOrigin(t *testing.T) {
	logs := &bytes.Buffer{}
	stack := newStack(t, logs)

	req := httptest.NewRequest(http.MethodGet, "/feed?viewer_id=v1", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	stack.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("request ID should be set before CORS rejects")
	}
	if entry := lastLogLine(t, logs); entry["error_code"] != "origin_not_allowed" {
		t.Errorf("error_code = %v", entry["error_code"])
	}
}
