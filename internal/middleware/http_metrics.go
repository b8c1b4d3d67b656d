// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. This maps paths like /scenes/42
// to /scenes/{id}.
func normalizePath(path string) string {
	// Exact matches for static routes (no normalization needed)
	staticRoutes := map[string]bool{
		"/":                          true,
		"/movies":                    true,
		"/slots":                     true,
		"/slots/lock":                true,
		"/slots/verify-payment":      true,
		"/slots/verify-confirmation": true,
		"/slots/verify-refund":       true,
		"/escrows":                   true,
		"/earnings":                  true,
		"/earnings/withdraw":         true,
		"/config":                    true,
		"/uploads":                   true,
		"/health":                    true,
		"/ready":                     true,
		"/metrics":                   true,
		"/events/ws":                 true,
	}

	if staticRoutes[path] {
		return path
	}

	// /movies/{id}, /movies/{id}/tree, /movies/{id}/active
	if strings.HasPrefix(path, "/movies/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && (parts[3] == "tree" || parts[3] == "active") {
			return "/movies/{id}/" + parts[3]
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/movies/{id}"
		}
	}

	// /scenes/{id}, /scenes/{id}/children
	if strings.HasPrefix(path, "/scenes/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] == "children" {
			return "/scenes/{id}/children"
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/scenes/{id}"
		}
	}

	// /escrows/{id}, /escrows/{id}/confirm|refund|check-expired
	if strings.HasPrefix(path, "/escrows/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 {
			switch parts[3] {
			case "confirm", "refund", "check-expired":
				return "/escrows/{id}/" + parts[3]
			}
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/escrows/{id}"
		}
	}

	// /receipts/{tx_ref}
	if strings.HasPrefix(path, "/receipts/") {
		parts := strings.Split(path, "/")
		if len(parts) == 3 && parts[2] != "" {
			return "/receipts/{tx_ref}"
		}
	}

	// Fallback: return as-is for unknown patterns so new routes keep
	// reporting until they are added here.
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

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded from metrics to avoid
// cardinality issues.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			duration := time.Since(start).Seconds()
			normalizedPath := normalizePath(r.URL.Path)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizedPath,
				strconv.Itoa(mrw.statusCode),
				duration,
				requestSize,
				mrw.size,
			)
		})
	}
}
