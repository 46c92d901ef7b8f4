package ingress

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware authenticates requests against the shared bearer API key
// using a constant-time comparison (spec §4.6 point 1).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			// Gemini's native clients send the key via x-goog-api-key.
			token = r.Header.Get("x-goog-api-key")
		}
		if token == "" {
			token = r.Header.Get("x-api-key") // Anthropic-style header
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
