package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"

	"github.com/ekisa-team/neutts-openai/internal/metrics"
)

const headerRequestID = "X-Request-Id"

// withRequestID propagates the caller's request id or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)

		next.ServeHTTP(w, r)
	})
}

// withAccessLog logs and measures every request. The route label is the
// matched mux pattern so that metrics stay bounded.
func withAccessLog(next http.Handler, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		snoop := httpsnoop.CaptureMetrics(next, w, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, r.Method, snoop.Code, snoop.Duration)

		level := slog.LevelInfo
		switch {
		case snoop.Code >= http.StatusInternalServerError:
			level = slog.LevelError
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			level = slog.LevelDebug
		}

		slog.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", snoop.Code,
			"bytes", snoop.Written,
			"took", time.Since(start),
			"request_id", r.Header.Get(headerRequestID),
			"remote", r.RemoteAddr)
	})
}
