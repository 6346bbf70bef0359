package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/http/requestutil"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

// TokenIssuer signs access tokens for an identity.
type TokenIssuer interface {
	Issue(identity auth.Identity) (string, error)
}

// AdminHandler exposes operator endpoints guarded by a static admin token.
type AdminHandler struct {
	issuer TokenIssuer
	token  string
	logger *slog.Logger
}

// NewAdminHandler constructs an AdminHandler. An empty token disables every
// admin endpoint.
func NewAdminHandler(issuer TokenIssuer, token string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		issuer: issuer,
		token:  token,
		logger: logger,
	}
}

type issueTokenRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IssueToken signs an access token for the requested identity. It stands in
// for the hosted sign-in flow when running the service locally.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(r) {
		logging.Warn(h.logger, "admin unauthorized",
			slog.String(logging.FieldPath, r.URL.Path),
			slog.String("client_ip", requestutil.ClientIP(r)),
		)
		writeError(w, r, http.StatusUnauthorized, "unauthorized", h.logger)
		return
	}
	if h.issuer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token issuer not configured", h.logger)
		return
	}

	logger := loggerFromContext(r, h.logger)
	var req issueTokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, r, http.StatusBadRequest, "id is required", logger)
		return
	}

	token, err := h.issuer.Issue(auth.Identity{ID: req.ID, Email: req.Email})
	if err != nil {
		logging.Error(logger, "admin token issue failed", err, logging.FieldUserID, req.ID)
		writeError(w, r, http.StatusInternalServerError, "failed to issue token", logger)
		return
	}
	logging.Info(logger, "admin token issued", logging.FieldUserID, req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "id": req.ID}, logger)
}

func (h *AdminHandler) authorize(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+h.token)) == 1
}
