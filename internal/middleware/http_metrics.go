// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded as-is.
var staticRoutes = map[string]bool{
	"/":                              true,
	"/feed":                          true,
	"/views":                         true,
	"/admin/fairness/report":         true,
	"/admin/fairness/reports":        true,
	"/admin/fairness/reports/stream": true,
	"/admin/fairness/audit":          true,
	"/admin/density":                 true,
	"/admin/flags":                   true,
	"/admin/jobs":                    true,
	"/admin/audit":                   true,
	"/health":                        true,
	"/ready":                         true,
	"/metrics":                       true,
}

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. This maps paths like /viewers/v1/mode to
// /viewers/{id}/mode.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")

	// /viewers/{id}/mode, /viewers/{id}
	if strings.HasPrefix(path, "/viewers/") && len(parts) >= 3 && parts[2] != "" {
		if len(parts) == 4 && parts[3] == "mode" {
			return "/viewers/{id}/mode"
		}
		if len(parts) == 3 {
			return "/viewers/{id}"
		}
	}

	// /admin/flags/{id}, /admin/flags/{id}/review, /admin/flags/{id}/resolve
	if strings.HasPrefix(path, "/admin/flags/") && len(parts) >= 4 && parts[3] != "" {
		if len(parts) == 5 && (parts[4] == "review" || parts[4] == "resolve") {
			return "/admin/flags/{id}/" + parts[4]
		}
		if len(parts) == 4 {
			return "/admin/flags/{id}"
		}
	}

	// /admin/fairness/reports/{id}, /admin/fairness/reports/{id}/archive
	if strings.HasPrefix(path, "/admin/fairness/reports/") && len(parts) >= 5 && parts[4] != "" {
		if len(parts) == 6 && parts[5] == "archive" {
			return "/admin/fairness/reports/{id}/archive"
		}
		if len(parts) == 5 {
			return "/admin/fairness/reports/{id}"
		}
	}

	// /admin/density/{id}
	if strings.HasPrefix(path, "/admin/density/") && len(parts) == 4 && parts[3] != "" {
		return "/admin/density/{id}"
	}

	// /admin/jobs/{name}/run
	if strings.HasPrefix(path, "/admin/jobs/") && len(parts) == 5 && parts[3] != "" && parts[4] == "run" {
		return "/admin/jobs/{name}/run"
	}

	// Fallback: return as-is for unknown patterns
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics records duration, sizes, counts and in-flight requests per
// normalized route. Liveness and readiness probes are not recorded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			path := normalizePath(r.URL.Path)
			done := metrics.trackInFlight(path)
			defer done()

			start := time.Now()
			mrw := newMetricsResponseWriter(w)
			next.ServeHTTP(mrw, r)

			// ContentLength is -1 when unknown.
			metrics.ObserveHTTPRequest(r.Method, path, strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(), max(r.ContentLength, 0), mrw.size)
		})
	}
}
