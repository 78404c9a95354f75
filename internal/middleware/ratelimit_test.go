package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeClock drives an InMemoryRateLimitStore without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*InMemoryRateLimitStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)}
	s := NewInMemoryRateLimitStore()
	s.now = clock.Now
	return s, clock
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	store, clock := newTestStore()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := store.Allow(ctx, "viewer:v1", cfg); !ok {
			t.Fatalf("request %d blocked", i+1)
		}
	}
	ok, retryAfter := store.Allow(ctx, "viewer:v1", cfg)
	if ok {
		t.Fatal("4th request allowed")
	}
	if retryAfter != 60 {
		t.Errorf("retryAfter = %d, want 60", retryAfter)
	}

	if ok, _ := store.Allow(ctx, "viewer:v2", cfg); !ok {
		t.Error("other key should have its own window")
	}

	clock.Advance(45 * time.Second)
	if _, retryAfter := store.Allow(ctx, "viewer:v1", cfg); retryAfter != 15 {
		t.Errorf("retryAfter after 45s = %d, want 15", retryAfter)
	}

	clock.Advance(15 * time.Second)
	if ok, _ := store.Allow(ctx, "viewer:v1", cfg); !ok {
		t.Error("request at window end should start a new window")
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()
	short := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}
	long := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour}

	store.Allow(ctx, "a", short)
	store.Allow(ctx, "b", short)
	store.Allow(ctx, "c", long)
	clock.Advance(2 * time.Second)

	if dropped := store.Cleanup(); dropped != 2 {
		t.Errorf("Cleanup() = %d, want 2", dropped)
	}
	if ok, _ := store.Allow(ctx, "c", long); ok {
		t.Error("unexpired bucket should survive cleanup")
	}
}

func TestInMemoryRateLimitStore_Concurrency(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Allow(context.Background(), "shared", cfg); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr bool
	}{
		{name: "feed default", cfg: DefaultFeedLimit()},
		{name: "view default", cfg: DefaultViewLimit()},
		{name: "admin default", cfg: DefaultAdminLimit()},
		{name: "zero requests", cfg: RateLimitConfig{WindowDuration: time.Minute}, wantErr: true},
		{name: "zero window", cfg: RateLimitConfig{RequestsPerWindow: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyFuncs(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		remote  string
		keyFunc KeyFunc
		want    string
	}{
		{name: "remote addr", target: "/views", remote: "10.0.0.5:5123", keyFunc: IPKeyFunc(), want: "10.0.0.5"},
		{name: "ipv6 remote addr", target: "/views", remote: "[2001:db8::1]:443", keyFunc: IPKeyFunc(), want: "2001:db8::1"},
		{name: "forwarded chain", target: "/views", headers: map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, keyFunc: IPKeyFunc(), want: "203.0.113.7"},
		{name: "real ip", target: "/views", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, keyFunc: IPKeyFunc(), want: "198.51.100.2"},
		{name: "viewer query", target: "/feed?viewer_id=v1", remote: "10.0.0.5:5123", keyFunc: ViewerKeyFunc(), want: "viewer:v1"},
		{name: "anonymous feed", target: "/feed", remote: "10.0.0.5:5123", keyFunc: ViewerKeyFunc(), want: "ip:10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tt.keyFunc(req); got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_RouteLimits(t *testing.T) {
	store, _ := newTestStore()
	metrics := NewMetrics()
	if err := metrics.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	limiter := RateLimiter(store, []RouteLimit{
		{Prefix: "/feed", Config: RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, KeyFunc: ViewerKeyFunc()},
		{Prefix: "/views", Config: RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}},
	}, RouteLimit{Config: RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}}, metrics)
	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(method, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.RemoteAddr = "10.0.0.5:5123"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	// Two feed reads per viewer; a second viewer on the same address is unaffected.
	for i := 0; i < 2; i++ {
		if w := do(http.MethodGet, "/feed?viewer_id=v1"); w.Code != http.StatusOK {
			t.Fatalf("feed read %d: status %d", i+1, w.Code)
		}
	}
	w := do(http.MethodGet, "/feed?viewer_id=v1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd feed read status = %d, want 429", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	var body map[string]map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"]["code"] != "rate_limited" {
		t.Errorf("body = %v (err %v), want rate_limited", body, err)
	}
	if w := do(http.MethodGet, "/feed?viewer_id=v2"); w.Code != http.StatusOK {
		t.Errorf("other viewer status = %d, want 200", w.Code)
	}

	// The view quota is separate from the feed quota.
	if w := do(http.MethodPost, "/views"); w.Code != http.StatusOK {
		t.Errorf("first view status = %d", w.Code)
	}
	if w := do(http.MethodPost, "/views"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second view status = %d, want 429", w.Code)
	}

	// Probes are never limited.
	for i := 0; i < 10; i++ {
		if w := do(http.MethodGet, "/ready"); w.Code != http.StatusOK {
			t.Fatalf("probe %d status = %d", i+1, w.Code)
		}
	}

	if got := getCounterValue(metrics.rateLimitBlocked.WithLabelValues("/feed", "viewer")); got != 1 {
		t.Errorf("blocked feed counter = %v, want 1", got)
	}
	if got := getCounterValue(metrics.rateLimitRequests.WithLabelValues("/views", "ip")); got != 2 {
		t.Errorf("view requests counter = %v, want 2", got)
	}
}

func TestRateLimiter_Fallback(t *testing.T) {
	store, _ := newTestStore()
	limiter := RateLimiter(store, nil, RouteLimit{Config: RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}}, nil)
	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/viewers/v1", nil))
		if w.Code != want {
			t.Errorf("request %d status = %d, want %d", i+1, w.Code, want)
		}
	}
}
