package middleware

import (
	"net/http"
	"strconv"
	"time"

	"freightdesk/internal/audit"
	"freightdesk/internal/metrics"
)

// statusRecorder captures the response code for audit and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func BasicAuthMiddleware(user, pass string, methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !methodInList(r.Method, methods) {
				next.ServeHTTP(w, r)
				return
			}
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="freightdesk"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records mutating calls into the audit pool, including the
// response code, so the trail outlives hard-deleted orders.
func AuditMiddleware(pool *audit.WorkerPool, orderID func(*http.Request) string, methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !methodInList(r.Method, methods) {
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			pool.Record(audit.Entry{
				Timestamp:  time.Now().UTC(),
				OrderID:    orderID(r),
				Method:     r.Method,
				Endpoint:   r.URL.Path,
				StatusCode: rec.status,
				Message:    r.Method + " " + r.URL.String(),
			})
		})
	}
}

// MetricsMiddleware instruments every request with the Prometheus counters.
func MetricsMiddleware(handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			metrics.HTTPRequestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(handlerName, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

func methodInList(method string, methods []string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}
