// Package authz decides which write actions a profile may perform on a match.
// Every function is pure so callers can evaluate it on each render.
package authz

import (
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
)

// Actions is the set of write actions allowed for a (profile, match) pair.
type Actions struct {
	Edit   bool `json:"edit"`
	Create bool `json:"create"`
}

// CanEdit reports whether profile may change the score or status of match.
// Admins may edit any match; scorekeepers only matches their team plays in.
func CanEdit(profile *profiles.Profile, match *matches.Match) bool {
	if profile == nil || match == nil {
		return false
	}
	switch profile.Role {
	case profiles.RoleAdmin:
		return true
	case profiles.RoleScorekeeper:
		return match.InvolvesTeam(profile.TeamID)
	default:
		return false
	}
}

// CanCreate reports whether profile may schedule new matches.
func CanCreate(profile *profiles.Profile) bool {
	return profile.IsAdmin()
}

// Resolve returns every action profile may take on match.
func Resolve(profile *profiles.Profile, match *matches.Match) Actions {
	return Actions{
		Edit:   CanEdit(profile, match),
		Create: CanCreate(profile),
	}
}
