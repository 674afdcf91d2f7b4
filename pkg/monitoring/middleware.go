package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
)

// responseWriter captures the status code written by a handler
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request metrics and structured access logs
func HTTPMiddleware(metrics *MetricsCollector, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), duration)
			log.HTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, rw.statusCode, duration.Milliseconds())
		})
	}
}
