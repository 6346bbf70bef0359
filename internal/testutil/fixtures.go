package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/datastore/memory"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
)

// Kickoff is the start time used by SampleMatch.
var Kickoff = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

// SampleMatch returns a complete match between home and away with revision 1.
func SampleMatch(id, home, away string) matches.Match {
	return matches.Match{
		ID:           id,
		Status:       matches.StatusScheduled,
		StartTime:    Kickoff,
		HomeTeamID:   home,
		AwayTeamID:   away,
		HomeTeamName: teamName(home),
		AwayTeamName: teamName(away),
		Revision:     1,
	}
}

// Admin, Scorekeeper and Viewer build profiles for authorization tests.
func Admin(id string) *profiles.Profile {
	return &profiles.Profile{ID: id, Role: profiles.RoleAdmin}
}

func Scorekeeper(id, team string) *profiles.Profile {
	return &profiles.Profile{ID: id, Role: profiles.RoleScorekeeper, TeamID: team}
}

func Viewer(id string) *profiles.Profile {
	return &profiles.Profile{ID: id, Role: profiles.RoleViewer}
}

// SeedStore returns a memory store holding teams t1..t4 and the given matches
// and profiles. Match fields come from SampleMatch-style values.
func SeedStore(t *testing.T, ms []matches.Match, ps ...*profiles.Profile) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		if _, err := store.Insert(ctx, datastore.TableTeams, datastore.Record{"id": id, "name": teamName(id)}); err != nil {
			t.Fatalf("seed team %s: %v", id, err)
		}
	}
	for _, m := range ms {
		rec := datastore.Record{
			matches.ColumnID:         m.ID,
			matches.ColumnStatus:     string(m.Status),
			matches.ColumnHomeScore:  m.HomeScore,
			matches.ColumnAwayScore:  m.AwayScore,
			matches.ColumnStartTime:  m.StartTime,
			matches.ColumnHomeTeamID: m.HomeTeamID,
			matches.ColumnAwayTeamID: m.AwayTeamID,
		}
		if _, err := store.Insert(ctx, datastore.TableMatches, rec); err != nil {
			t.Fatalf("seed match %s: %v", m.ID, err)
		}
	}
	for _, p := range ps {
		if _, err := store.Insert(ctx, datastore.TableProfiles, datastore.Record(p.Fields())); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}
	return store
}

func teamName(id string) string {
	return "Team " + id
}
