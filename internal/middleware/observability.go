package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// HeaderRequestID correlates a request across services and log lines.
	HeaderRequestID = "X-Request-ID"

	contextKeyRequestID contextKey = "request_id"
)

// RequestRecorder observes finished requests. *metrics.Metrics satisfies it.
type RequestRecorder interface {
	HTTPRequest(method, route string, status int, took time.Duration)
}

// RequestIDFromContext returns the request id set by Observe.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// Observe assigns a request id, then logs and records every request.
// Requests are labelled by their mux pattern to keep metric cardinality bounded.
func Observe(recorder RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			req := r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, requestID))
			next.ServeHTTP(rec, req)
			took := time.Since(started)

			route := req.Pattern
			if route == "" {
				route = "unmatched"
			}
			if recorder != nil {
				recorder.HTTPRequest(r.Method, route, rec.statusCode, took)
			}
			slog.Info("http_request",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rec.statusCode,
				"latency_ms", took.Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
