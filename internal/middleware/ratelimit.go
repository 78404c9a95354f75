// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	// Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	// Must be > 0.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultFeedLimit bounds feed reads per viewer.
func DefaultFeedLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 120, WindowDuration: time.Minute}
}

// DefaultViewLimit bounds view submissions per client address. Players
// report one view per completed item, so the ceiling is generous.
func DefaultViewLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 600, WindowDuration: time.Minute}
}

// DefaultAdminLimit bounds operator requests per client address.
func DefaultAdminLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
}

// RateLimitStore defines the interface for rate limit state storage.
type RateLimitStore interface {
	// Allow reports whether a request for key fits in the current window and,
	// if not, the number of seconds until the window resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, retryAfter int)
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore implements RateLimitStore with a fixed window
// counter per key. Safe for concurrent use.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		s.buckets[key] = &bucket{count: 1, windowEnd: now.Add(config.WindowDuration)}
		return true, 0
	}
	if b.count < config.RequestsPerWindow {
		b.count++
		return true, 0
	}

	retryAfter := int((b.windowEnd.Sub(now) + time.Second - 1) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Cleanup removes expired buckets and returns how many were dropped.
func (s *InMemoryRateLimitStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) {
			delete(s.buckets, key)
			dropped++
		}
	}
	return dropped
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (s *InMemoryRateLimitStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		// First hop of X-Forwarded-For is the client behind the ingress.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// ViewerKeyFunc keys feed requests by the viewer_id query parameter so
// viewers sharing an address do not starve each other, falling back to
// the client IP.
func ViewerKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		if viewer := r.URL.Query().Get("viewer_id"); viewer != "" {
			return "viewer:" + viewer
		}
		return "ip:" + ipFunc(r)
	}
}

// RouteLimit applies Config to requests whose path starts with Prefix.
type RouteLimit struct {
	Prefix  string
	Config  RateLimitConfig
	KeyFunc KeyFunc
}

// probePaths are never rate limited.
var probePaths = map[string]bool{"/health": true, "/ready": true}

// RateLimiter limits request rates per route. The first RouteLimit whose
// prefix matches wins; other requests use fallback. Buckets are scoped per
// prefix so a viewer's feed reads do not consume their view quota.
// Exceeding a limit returns 429 with Retry-After and a rate_limited error body.
func RateLimiter(store RateLimitStore, routes []RouteLimit, fallback RouteLimit, metrics *Metrics) func(http.Handler) http.Handler {
	if fallback.KeyFunc == nil {
		fallback.KeyFunc = IPKeyFunc()
	}
	match := func(path string) RouteLimit {
		for _, rl := range routes {
			if strings.HasPrefix(path, rl.Prefix) {
				if rl.KeyFunc == nil {
					rl.KeyFunc = IPKeyFunc()
				}
				return rl
			}
		}
		return fallback
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if probePaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			rl := match(r.URL.Path)
			endpoint := normalizePath(r.URL.Path)
			key := rl.KeyFunc(r)
			keyType := KeyTypeIP
			if strings.HasPrefix(key, "viewer:") {
				keyType = KeyTypeViewer
			}
			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, keyType)
			}

			allowed, retryAfter := store.Allow(r.Context(), rl.Prefix+"|"+key, rl.Config)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.IncRateLimitBlocked(endpoint, keyType)
			}
			ctx := SetErrorCode(r.Context(), "rate_limited")
			UpdateResponseContext(w, ctx)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfter)*time.Second).Unix(), 10))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]map[string]string{
				"error": {"code": "rate_limited", "message": "Too many requests"},
			})
		})
	}
}
