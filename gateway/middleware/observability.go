package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"scrollpay/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Observe logs each completed request and records it into the gateway metrics
// under the given route label.
func Observe(logger *slog.Logger, metrics *observability.GatewayMetrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)
			metrics.Observe(route, recorder.status, elapsed)
			if logger != nil {
				logger.Info("gateway request",
					"route", route,
					"method", r.Method,
					"path", r.URL.Path,
					"status", recorder.status,
					"duration_ms", elapsed.Milliseconds(),
					"request_id", GetRequestID(r.Context()),
				)
			}
		})
	}
}
