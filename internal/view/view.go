// Package view turns cached matches and the current profile into display
// models. It performs no I/O.
package view

import (
	"strconv"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/authz"
	"github.com/preston-bernstein/livescore-service/internal/cache"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/timeutil"
)

// Phase tells a renderer which of the three screens to show.
type Phase string

const (
	PhaseLoading  Phase = "loading"
	PhaseNotFound Phase = "not_found"
	PhaseReady    Phase = "ready"
)

// Options carries the per-client state folded into a projection.
type Options struct {
	// Location formats kickoff times; UTC when nil.
	Location  *time.Location
	Updating  bool
	LastError string
}

// StatusOption is one status a user can switch the match to.
type StatusOption struct {
	Status  matches.Status `json:"status"`
	Label   string         `json:"label"`
	Current bool           `json:"current"`
	Enabled bool           `json:"enabled"`
}

// MatchView is the display model of one match.
type MatchView struct {
	Phase       Phase          `json:"phase"`
	ID          string         `json:"id"`
	Status      matches.Status `json:"status,omitempty"`
	StatusLabel string         `json:"status_label,omitempty"`
	HomeTeam    string         `json:"home_team,omitempty"`
	AwayTeam    string         `json:"away_team,omitempty"`
	HomeScore   int            `json:"home_score"`
	AwayScore   int            `json:"away_score"`
	Score       string         `json:"score,omitempty"`
	StartTime   string         `json:"start_time,omitempty"`
	HomeScored  bool           `json:"home_scored"`
	AwayScored  bool           `json:"away_scored"`
	CanEdit     bool           `json:"can_edit"`
	CanCreate   bool           `json:"can_create"`
	Statuses    []StatusOption `json:"statuses,omitempty"`
	Updating    bool           `json:"updating"`
	LastError   string         `json:"last_error,omitempty"`
}

// ListView is the display model of the match collection.
type ListView struct {
	Phase     Phase       `json:"phase"`
	Matches   []MatchView `json:"matches"`
	CanCreate bool        `json:"can_create"`
	Updating  bool        `json:"updating"`
	LastError string      `json:"last_error,omitempty"`
}

// StatusLabel returns the short label shown for status. Unknown values read
// as SCHEDULED.
func StatusLabel(status matches.Status) string {
	switch status {
	case matches.StatusLive:
		return "LIVE"
	case matches.StatusHalfTime:
		return "HT"
	case matches.StatusFinished:
		return "FT"
	default:
		return "SCHEDULED"
	}
}

// Project builds the view of one cache entry. A loading or absent entry only
// carries its phase, id and the client state.
func Project(id string, entry cache.Entry, profile *profiles.Profile, opts Options) MatchView {
	switch entry.State {
	case cache.StatePresent:
		return projectMatch(entry.Match, profile, opts)
	case cache.StateAbsent:
		return MatchView{
			Phase:     PhaseNotFound,
			ID:        id,
			CanCreate: authz.CanCreate(profile),
			Updating:  opts.Updating,
			LastError: opts.LastError,
		}
	default:
		return MatchView{
			Phase:     PhaseLoading,
			ID:        id,
			CanCreate: authz.CanCreate(profile),
			Updating:  opts.Updating,
			LastError: opts.LastError,
		}
	}
}

// ProjectList builds the collection view. loaded is false until the first
// collection fetch has completed.
func ProjectList(ms []matches.Match, loaded bool, profile *profiles.Profile, opts Options) ListView {
	lv := ListView{
		Phase:     PhaseReady,
		Matches:   make([]MatchView, 0, len(ms)),
		CanCreate: authz.CanCreate(profile),
		Updating:  opts.Updating,
		LastError: opts.LastError,
	}
	if !loaded {
		lv.Phase = PhaseLoading
		return lv
	}
	itemOpts := Options{Location: opts.Location, Updating: opts.Updating}
	for _, m := range ms {
		lv.Matches = append(lv.Matches, projectMatch(m, profile, itemOpts))
	}
	return lv
}

func projectMatch(m matches.Match, profile *profiles.Profile, opts Options) MatchView {
	canEdit := authz.CanEdit(profile, &m)
	return MatchView{
		Phase:       PhaseReady,
		ID:          m.ID,
		Status:      m.Status,
		StatusLabel: StatusLabel(m.Status),
		HomeTeam:    m.HomeTeamName,
		AwayTeam:    m.AwayTeamName,
		HomeScore:   m.HomeScore,
		AwayScore:   m.AwayScore,
		Score:       strconv.Itoa(m.HomeScore) + " - " + strconv.Itoa(m.AwayScore),
		StartTime:   timeutil.FormatKickoff(m.StartTime, opts.Location),
		HomeScored:  m.HomeScore > 0,
		AwayScored:  m.AwayScore > 0,
		CanEdit:     canEdit,
		CanCreate:   authz.CanCreate(profile),
		Statuses:    statusOptions(m.Status, canEdit && !opts.Updating),
		Updating:    opts.Updating,
		LastError:   opts.LastError,
	}
}

// statusOptions lists the status controls. The current status is never
// enabled.
func statusOptions(current matches.Status, editable bool) []StatusOption {
	all := matches.Statuses()
	out := make([]StatusOption, 0, len(all))
	for _, s := range all {
		out = append(out, StatusOption{
			Status:  s,
			Label:   StatusLabel(s),
			Current: s == current,
			Enabled: editable && s != current,
		})
	}
	return out
}
