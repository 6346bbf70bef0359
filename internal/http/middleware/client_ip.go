package middleware

import (
	"net/http"

	"github.com/preston-bernstein/livescore-service/internal/http/requestutil"
)

// ClientAddress resolves the caller's address once per request so logs and
// rate limits agree on it. X-Forwarded-For is honored only when
// trustForwarded is set.
func ClientAddress(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := requestutil.ResolveClientIP(r, trustForwarded)
			next.ServeHTTP(w, r.WithContext(requestutil.WithClientIP(r.Context(), ip)))
		})
	}
}
