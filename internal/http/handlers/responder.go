package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/http/middleware"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/mutation"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error(logger, "failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string, logger *slog.Logger) {
	reqID := middleware.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = r.Header.Get("X-Request-ID")
	}
	body := map[string]string{"error": message}
	if reqID != "" {
		body["requestId"] = reqID
	}
	writeJSON(w, status, body, logger)
}

// writeFailure maps err onto a status code and logs server-side failures.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error(loggerFromContext(r, logger), "request failed", err, logging.FieldStatusCode, status)
	}
	writeError(w, r, status, err.Error(), logger)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mutation.ErrRemoteWriteFailed):
		return http.StatusBadGateway
	case errors.Is(err, mutation.ErrPermissionDenied), errors.Is(err, datastore.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, mutation.ErrInvalidArgument),
		errors.Is(err, datastore.ErrInvalidInput),
		errors.Is(err, matches.ErrInvalidSide),
		errors.Is(err, matches.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, datastore.ErrNotFound), errors.Is(err, datastore.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, datastore.ErrUnavailable), errors.Is(err, datastore.ErrTransportInterrupted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a size-limited JSON body into dest.
func decodeBody(r *http.Request, dest any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", datastore.ErrInvalidInput, err)
	}
	return nil
}

func loggerFromContext(r *http.Request, fallback *slog.Logger) *slog.Logger {
	if r == nil {
		return fallback
	}
	return logging.FromContext(r.Context(), fallback)
}
