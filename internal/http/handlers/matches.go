package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/view"
)

type goalRequest struct {
	Side string `json:"side"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// ListMatches returns the collection projected for the caller.
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	lv, err := h.svc.Matches(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	logging.Info(loggerFromContext(r, h.logger), "served matches", logging.FieldCount, len(lv.Matches))
	writeJSON(w, http.StatusOK, lv, h.logger)
}

// GetMatch returns one match projected for the caller. Unknown ids answer
// 404 with the not_found projection as body.
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.matchID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Match(r.Context(), auth.IdentityFromContext(r.Context()), id)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	h.writeMatch(w, v)
}

// AddGoal increments the score of one side.
func (h *Handler) AddGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.matchID(w, r)
	if !ok {
		return
	}
	var req goalRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	side, err := matches.ParseSide(req.Side)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	v, err := h.svc.IncrementScore(r.Context(), auth.IdentityFromContext(r.Context()), id, side)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	logging.Info(loggerFromContext(r, h.logger), "goal recorded",
		logging.FieldMatchID, id,
		"side", string(side),
		"score", v.Score,
	)
	h.writeMatch(w, v)
}

// UpdateStatus moves a match to another status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.matchID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	status, err := matches.ParseStatus(req.Status)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	v, err := h.svc.SetStatus(r.Context(), auth.IdentityFromContext(r.Context()), id, status)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	logging.Info(loggerFromContext(r, h.logger), "status changed",
		logging.FieldMatchID, id,
		"status", string(status),
	)
	h.writeMatch(w, v)
}

// CreateMatch schedules a new match.
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req matches.NewMatch
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	v, err := h.svc.CreateMatch(r.Context(), auth.IdentityFromContext(r.Context()), req)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	logging.Info(loggerFromContext(r, h.logger), "match created", logging.FieldMatchID, v.ID)
	writeJSON(w, http.StatusCreated, v, h.logger)
}

func (h *Handler) writeMatch(w http.ResponseWriter, v view.MatchView) {
	status := http.StatusOK
	if v.Phase == view.PhaseNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, v, h.logger)
}

func (h *Handler) matchID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || strings.ContainsAny(id, " \t/") {
		writeError(w, r, http.StatusBadRequest, "invalid match id", h.logger)
		return "", false
	}
	return id, true
}
