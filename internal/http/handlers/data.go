package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/authz"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

// Columns a match editor may change through the data API.
var editableMatchColumns = map[string]bool{
	matches.ColumnHomeScore: true,
	matches.ColumnAwayScore: true,
	matches.ColumnStatus:    true,
}

// caller is the authenticated identity of a data API request and its
// permission profile. Both are nil for anonymous requests.
type caller struct {
	identity *auth.Identity
	profile  *profiles.Profile
}

func (c caller) owns(id string) bool {
	return c.identity != nil && c.identity.ID == id
}

func (h *Handler) caller(ctx context.Context) (caller, error) {
	identity := auth.IdentityFromContext(ctx)
	profile, err := h.svc.Profile(ctx, identity)
	if err != nil {
		return caller{}, err
	}
	return caller{identity: identity, profile: profile}, nil
}

// ListRecords serves GET /v1/{table}.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	q, err := datastore.ParseQuery(r.URL.Query())
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	c, err := h.caller(r.Context())
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}

	if table == datastore.TableProfiles {
		if c.identity == nil {
			writeError(w, r, http.StatusForbidden, "sign in to read profiles", h.logger)
			return
		}
		if !c.profile.IsAdmin() {
			if want, set := q.Filter[profiles.ColumnID]; set && fmt.Sprint(want) != c.identity.ID {
				writeJSON(w, http.StatusOK, []datastore.Record{}, h.logger)
				return
			}
			if q.Filter == nil {
				q.Filter = datastore.Filter{}
			}
			q.Filter[profiles.ColumnID] = c.identity.ID
		}
	}

	recs, err := h.store.FetchMany(r.Context(), table, q)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	if recs == nil {
		recs = []datastore.Record{}
	}
	writeJSON(w, http.StatusOK, recs, h.logger)
}

// GetRecord serves GET /v1/{table}/{id}. Profiles of other users read as
// missing.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if table == datastore.TableProfiles {
		c, err := h.caller(r.Context())
		if err != nil {
			writeFailure(w, r, err, h.logger)
			return
		}
		if c.identity == nil {
			writeError(w, r, http.StatusForbidden, "sign in to read profiles", h.logger)
			return
		}
		if !c.owns(id) && !c.profile.IsAdmin() {
			writeError(w, r, http.StatusNotFound, "record not found", h.logger)
			return
		}
	}

	rec, err := h.store.FetchOne(r.Context(), table, id)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, rec, h.logger)
}

// UpdateRecord serves PATCH /v1/{table}/{id}.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var fields datastore.Record
	if err := decodeBody(r, &fields); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	if len(fields) == 0 {
		writeError(w, r, http.StatusBadRequest, "no fields to update", h.logger)
		return
	}
	if _, err := datastore.NormalizeFields(table, fields); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	c, err := h.caller(r.Context())
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}

	switch table {
	case datastore.TableMatches:
		for col := range fields {
			if !editableMatchColumns[col] {
				writeError(w, r, http.StatusBadRequest, fmt.Sprintf("column %q cannot be changed", col), h.logger)
				return
			}
		}
		if err := h.authorizeMatchEdit(r.Context(), c, id); err != nil {
			writeFailure(w, r, err, h.logger)
			return
		}
	default:
		if !c.profile.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "admin role required", h.logger)
			return
		}
	}

	if err := h.store.Update(r.Context(), table, id, fields); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	logging.Info(loggerFromContext(r, h.logger), "record updated",
		logging.FieldTable, table,
		"id", id,
		logging.FieldCount, len(fields),
	)
	w.WriteHeader(http.StatusNoContent)
}

// InsertRecord serves POST /v1/{table}.
func (h *Handler) InsertRecord(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	var fields datastore.Record
	if err := decodeBody(r, &fields); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	c, err := h.caller(r.Context())
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}

	switch table {
	case datastore.TableMatches:
		if !authz.CanCreate(c.profile) {
			writeError(w, r, http.StatusForbidden, "permission denied", h.logger)
			return
		}
	case datastore.TableProfiles:
		if c.identity == nil {
			writeError(w, r, http.StatusForbidden, "sign in to create a profile", h.logger)
			return
		}
		if id := fields.String(profiles.ColumnID); id != "" && id != c.identity.ID {
			writeError(w, r, http.StatusForbidden, "profiles can only be created for the caller", h.logger)
			return
		}
		fields[profiles.ColumnID] = c.identity.ID
		fields[profiles.ColumnRole] = string(profiles.RoleViewer)
		delete(fields, profiles.ColumnTeamID)
	default:
		if !c.profile.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "admin role required", h.logger)
			return
		}
	}

	rec, err := h.store.Insert(r.Context(), table, fields)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	logging.Info(loggerFromContext(r, h.logger), "record inserted",
		logging.FieldTable, table,
		"id", rec.String(datastore.ColumnID),
	)
	writeJSON(w, http.StatusCreated, rec, h.logger)
}

func (h *Handler) authorizeMatchEdit(ctx context.Context, c caller, id string) error {
	rec, err := h.store.FetchOne(ctx, datastore.TableMatches, id)
	if err != nil {
		return err
	}
	m, err := matches.FromRecord(rec)
	if err != nil {
		return err
	}
	if !authz.CanEdit(c.profile, &m) {
		return fmt.Errorf("%w: match %s", datastore.ErrForbidden, id)
	}
	return nil
}

func (h *Handler) table(w http.ResponseWriter, r *http.Request) (string, bool) {
	table := chi.URLParam(r, "table")
	if err := datastore.CheckTable(table); err != nil {
		writeFailure(w, r, err, h.logger)
		return "", false
	}
	return table, true
}
