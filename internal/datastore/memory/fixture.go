package memory

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/domain/teams"
)

//go:embed fixture.yaml
var defaultFixture []byte

// FixtureMatch is a seeded match whose start time is relative to the seed time.
type FixtureMatch struct {
	ID          string `yaml:"id"`
	HomeTeamID  string `yaml:"home_team_id"`
	AwayTeamID  string `yaml:"away_team_id"`
	Status      string `yaml:"status"`
	HomeScore   int    `yaml:"home_score"`
	AwayScore   int    `yaml:"away_score"`
	StartOffset string `yaml:"start_offset"`
}

// Fixture is the seed data loaded into a memory store.
type Fixture struct {
	Teams    []teams.Team       `yaml:"teams"`
	Profiles []profiles.Profile `yaml:"profiles"`
	Matches  []FixtureMatch     `yaml:"matches"`
}

// LoadFixture reads a YAML fixture from path, or the built-in one when path is empty.
func LoadFixture(path string) (Fixture, error) {
	raw := defaultFixture
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Fixture{}, fmt.Errorf("read fixture: %w", err)
		}
		raw = data
	}
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	return fx, nil
}

// Seed inserts the fixture rows. Match start times are offset from the top of
// the hour at now.
func (s *Store) Seed(ctx context.Context, fx Fixture, now time.Time) error {
	base := now.UTC().Truncate(time.Hour)
	for _, t := range fx.Teams {
		if _, err := s.Insert(ctx, datastore.TableTeams, t.Fields()); err != nil {
			return fmt.Errorf("seed team %s: %w", t.ID, err)
		}
	}
	for _, p := range fx.Profiles {
		if _, err := s.Insert(ctx, datastore.TableProfiles, p.Fields()); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.ID, err)
		}
	}
	for _, m := range fx.Matches {
		offset := time.Duration(0)
		if m.StartOffset != "" {
			parsed, err := time.ParseDuration(m.StartOffset)
			if err != nil {
				return fmt.Errorf("seed match %s: start_offset: %w", m.ID, err)
			}
			offset = parsed
		}
		status := m.Status
		if status == "" {
			status = string(matches.StatusScheduled)
		}
		fields := datastore.Record{
			matches.ColumnID:         m.ID,
			matches.ColumnHomeTeamID: m.HomeTeamID,
			matches.ColumnAwayTeamID: m.AwayTeamID,
			matches.ColumnStatus:     status,
			matches.ColumnHomeScore:  m.HomeScore,
			matches.ColumnAwayScore:  m.AwayScore,
			matches.ColumnStartTime:  base.Add(offset),
		}
		if _, err := s.Insert(ctx, datastore.TableMatches, fields); err != nil {
			return fmt.Errorf("seed match %s: %w", m.ID, err)
		}
	}
	return nil
}

// NewSeeded returns a store loaded with the fixture at path (or the built-in one).
func NewSeeded(ctx context.Context, path string, opts ...Option) (*Store, error) {
	fx, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	s := New(opts...)
	if err := s.Seed(ctx, fx, s.now()); err != nil {
		return nil, err
	}
	return s, nil
}
