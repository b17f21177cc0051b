package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"telemetry-platform/pkg/logging"
)

// RequestIDMiddleware assigns each request an identifier that tags
// every log entry written while handling it. An X-Request-ID supplied
// by the client is kept so identifiers correlate across services.
func RequestIDMiddleware(logger *logging.StructuredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = newRequestID()
			}

			ctx := logging.WithRequestID(r.Context(), requestID)
			w.Header().Set("X-Request-ID", requestID)

			logger.Debug(ctx, "[REQUEST] Handling request", logging.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf[:])
}
