package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/viora/downloader/internal/logger"
)

const slowRequest = 500 * time.Millisecond

// Timing returns a middleware that adds a Server-Timing header and logs
// slow requests.
func Timing(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &timingResponseWriter{
				responseWriter: responseWriter{ResponseWriter: w, statusCode: http.StatusOK},
				start:          start,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			if duration > slowRequest {
				log.Warn(r.Context(), "slow request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      wrapped.statusCode,
					"duration_ms": duration.Milliseconds(),
				})
			}
		})
	}
}

// timingResponseWriter sets Server-Timing just before the header is sent,
// the last moment it can still be changed.
type timingResponseWriter struct {
	responseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timingResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.Header().Set("Server-Timing", formatServerTiming(time.Since(w.start)))
	}
	w.responseWriter.WriteHeader(code)
}

func (w *timingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.responseWriter.Write(b)
}

func formatServerTiming(d time.Duration) string {
	ms := float64(d.Nanoseconds()) / 1e6
	return "total;dur=" + strconv.FormatFloat(ms, 'f', 2, 64)
}
