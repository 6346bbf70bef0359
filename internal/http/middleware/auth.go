package middleware

import (
	"log/slog"
	"net/http"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/http/requestutil"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

// TokenVerifier checks an access token and returns its identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Authenticate attaches the caller identity to the request context. Requests
// without a token pass through anonymously; a token that fails verification
// is rejected with 401.
func Authenticate(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := requestutil.BearerToken(r)
			if token == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := verifier.Verify(token)
			if err != nil {
				logging.WarnErr(logging.FromContext(r.Context(), logger), "rejected access token", err,
					logging.FieldPath, r.URL.Path,
				)
				writeError(w, r, http.StatusUnauthorized, "invalid access token")
				return
			}
			ctx := auth.WithIdentity(r.Context(), &identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
