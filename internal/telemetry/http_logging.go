package telemetry

import (
	"net/http"
	"time"

	"github.com/oceanscan/geofetch/internal/logctx"
)

// responseWriter wraps http.ResponseWriter to capture the status code and the
// number of bytes written.
type responseWriter struct {
	http.ResponseWriter

	status       int
	bytesWritten int64
	wroteHeader  bool
}

// wrapResponseWriter creates a new responseWriter with status defaulted to 200 OK.
func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader captures the status code and delegates to the underlying ResponseWriter.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return // Prevent multiple WriteHeader calls
	}

	rw.status = code
	rw.wroteHeader = true

	rw.ResponseWriter.WriteHeader(code)
}

// Write captures implicit 200 OK if WriteHeader was not called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}

	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)

	return n, err
}

// HTTPLogging middleware logs HTTP requests with the level picked from the
// status code: 5xx at error, 4xx at warn, everything else at info.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		start := time.Now()

		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		status := wrapped.status
		requestID := GetRequestID(ctx)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestID,
		}

		switch {
		case status >= 500:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case status >= 400:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.InfoContext(ctx, "http request completed", attrs...)
		}
	})
}
