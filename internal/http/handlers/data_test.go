package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/testutil"
)

func TestListRecords(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/matches?home_team_id=eq.t3&order=id.asc", "", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var recs []datastore.Record
	testutil.DecodeJSON(t, rr, &recs)
	if len(recs) != 1 || recs[0].String("id") != "m2" {
		t.Fatalf("expected only m2, got %+v", recs)
	}

	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/matches?home_team_id=t3", "", nil), http.StatusBadRequest)
	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/secrets", "", nil), http.StatusNotFound)
}

func TestProfileReadRules(t *testing.T) {
	f := newFixture(t)

	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/user_profiles", "", nil), http.StatusForbidden)

	rr := f.do(t, http.MethodGet, "/v1/user_profiles", "viewer", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var own []datastore.Record
	testutil.DecodeJSON(t, rr, &own)
	if len(own) != 1 || own[0].String("id") != "viewer" {
		t.Fatalf("expected only the caller's profile, got %+v", own)
	}

	rr = f.do(t, http.MethodGet, "/v1/user_profiles?id=eq.admin", "viewer", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var other []datastore.Record
	testutil.DecodeJSON(t, rr, &other)
	if len(other) != 0 {
		t.Fatalf("expected no foreign profiles, got %+v", other)
	}

	rr = f.do(t, http.MethodGet, "/v1/user_profiles", "admin", nil)
	var all []datastore.Record
	testutil.DecodeJSON(t, rr, &all)
	if len(all) != 3 {
		t.Fatalf("expected admin to list every profile, got %d", len(all))
	}

	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/user_profiles/viewer", "viewer", nil), http.StatusOK)
	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/user_profiles/admin", "viewer", nil), http.StatusNotFound)
	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/user_profiles/keeper", "admin", nil), http.StatusOK)
	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/user_profiles/viewer", "", nil), http.StatusForbidden)
}

func TestGetRecordMatchIncludesJoins(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/matches/m1", "", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var rec datastore.Record
	testutil.DecodeJSON(t, rr, &rec)
	m, err := matches.FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if m.HomeTeamName != "Team t1" {
		t.Fatalf("expected joined team name, got %q", m.HomeTeamName)
	}

	testutil.AssertStatus(t, f.do(t, http.MethodGet, "/v1/matches/missing", "", nil), http.StatusNotFound)
}

func TestUpdateMatchRecordRules(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		id     string
		body   any
		status int
	}{
		{name: "scorekeeper own match", user: "keeper", id: "m1", body: map[string]any{"home_score": 2}, status: http.StatusNoContent},
		{name: "status change", user: "admin", id: "m2", body: map[string]any{"status": "HT"}, status: http.StatusNoContent},
		{name: "scorekeeper other match", user: "keeper", id: "m2", body: map[string]any{"home_score": 2}, status: http.StatusForbidden},
		{name: "viewer", user: "viewer", id: "m1", body: map[string]any{"home_score": 2}, status: http.StatusForbidden},
		{name: "anonymous", id: "m1", body: map[string]any{"home_score": 2}, status: http.StatusForbidden},
		{name: "protected column", user: "admin", id: "m1", body: map[string]any{"home_team_id": "t3"}, status: http.StatusBadRequest},
		{name: "negative score", user: "admin", id: "m1", body: map[string]any{"away_score": -1}, status: http.StatusBadRequest},
		{name: "unknown status", user: "admin", id: "m1", body: map[string]any{"status": "PAUSED"}, status: http.StatusBadRequest},
		{name: "empty body", user: "admin", id: "m1", body: map[string]any{}, status: http.StatusBadRequest},
		{name: "missing match", user: "admin", id: "nope", body: map[string]any{"home_score": 1}, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before, err := f.store.FetchOne(context.Background(), datastore.TableMatches, "m1")
			if err != nil {
				t.Fatalf("FetchOne: %v", err)
			}

			rr := f.do(t, http.MethodPatch, "/v1/matches/"+tt.id, tt.user, tt.body)
			testutil.AssertStatus(t, rr, tt.status)

			if tt.status != http.StatusNoContent && tt.id == "m1" {
				after, err := f.store.FetchOne(context.Background(), datastore.TableMatches, "m1")
				if err != nil {
					t.Fatalf("FetchOne: %v", err)
				}
				if after.String(matches.ColumnRevision) != before.String(matches.ColumnRevision) {
					t.Fatalf("expected rejected write to leave the row untouched")
				}
			}
		})
	}
}

func TestUpdateNonMatchTablesRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	testutil.AssertStatus(t, f.do(t, http.MethodPatch, "/v1/teams/t1", "keeper", map[string]any{"name": "Renamed"}), http.StatusForbidden)
	testutil.AssertStatus(t, f.do(t, http.MethodPatch, "/v1/user_profiles/viewer", "viewer", map[string]any{"role": "admin"}), http.StatusForbidden)
	testutil.AssertStatus(t, f.do(t, http.MethodPatch, "/v1/teams/t1", "admin", map[string]any{"name": "Renamed"}), http.StatusNoContent)
	testutil.AssertStatus(t, f.do(t, http.MethodPatch, "/v1/user_profiles/keeper", "admin", map[string]any{"team_id": "t2"}), http.StatusNoContent)
}

func TestInsertMatchRecord(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"home_team_id": "t1",
		"away_team_id": "t4",
		"start_time":   testutil.Kickoff.Format("2006-01-02T15:04:05Z07:00"),
	}

	testutil.AssertStatus(t, f.do(t, http.MethodPost, "/v1/matches", "keeper", body), http.StatusForbidden)

	rr := f.do(t, http.MethodPost, "/v1/matches", "admin", body)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	var rec datastore.Record
	testutil.DecodeJSON(t, rr, &rec)
	if rec.String("id") == "" || rec.String(matches.ColumnStatus) != string(matches.StatusScheduled) {
		t.Fatalf("unexpected inserted record %+v", rec)
	}
}

func TestProfileSignup(t *testing.T) {
	f := newFixture(t)

	testutil.AssertStatus(t, f.do(t, http.MethodPost, "/v1/user_profiles", "", map[string]any{"display_name": "Anon"}), http.StatusForbidden)
	testutil.AssertStatus(t, f.do(t, http.MethodPost, "/v1/user_profiles", "newbie", map[string]any{"id": "someone-else"}), http.StatusForbidden)

	body := map[string]any{"display_name": "New Fan", "role": "admin", "team_id": "t1"}
	rr := f.do(t, http.MethodPost, "/v1/user_profiles", "newbie", body)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rec, err := f.store.FetchOne(context.Background(), datastore.TableProfiles, "newbie")
	if err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	p, err := profiles.FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if p.Role != profiles.RoleViewer || p.TeamID != "" || p.DisplayName != "New Fan" {
		t.Fatalf("expected a plain viewer profile, got %+v", p)
	}
}

func TestInsertTeamRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	testutil.AssertStatus(t, f.do(t, http.MethodPost, "/v1/teams", "viewer", map[string]any{"id": "t9", "name": "Nine"}), http.StatusForbidden)
	testutil.AssertStatus(t, f.do(t, http.MethodPost, "/v1/teams", "admin", map[string]any{"id": "t9", "name": "Nine"}), http.StatusCreated)
}
