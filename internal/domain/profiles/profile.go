package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is the coarse permission level of a user.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleScorekeeper Role = "scorekeeper"
	RoleAdmin       Role = "admin"
)

// Column names of the user_profiles table.
const (
	ColumnID          = "id"
	ColumnDisplayName = "display_name"
	ColumnRole        = "role"
	ColumnTeamID      = "team_id"
)

// ErrIncompleteProfile is returned when a record has no id.
var ErrIncompleteProfile = errors.New("incomplete profile record")

// ParseRole maps raw input onto a Role. Unknown values are treated as viewer.
func ParseRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleScorekeeper, RoleAdmin:
		return r
	default:
		return RoleViewer
	}
}

// Profile carries the permission data of one authenticated user.
// TeamID is only meaningful for scorekeepers.
type Profile struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Role        Role   `json:"role" yaml:"role"`
	TeamID      string `json:"team_id,omitempty" yaml:"team_id"`
}

// IsAdmin reports whether the profile has the admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Fields returns the stored columns for the profile.
func (p Profile) Fields() map[string]any {
	fields := map[string]any{
		ColumnID:          p.ID,
		ColumnDisplayName: p.DisplayName,
		ColumnRole:        string(ParseRole(string(p.Role))),
	}
	if p.TeamID != "" {
		fields[ColumnTeamID] = p.TeamID
	} else {
		fields[ColumnTeamID] = nil
	}
	return fields
}

type wireProfile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	TeamID      *string `json:"team_id"`
}

// FromRecord decodes a user_profiles record.
func FromRecord(rec map[string]any) (Profile, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Profile{}, fmt.Errorf("encode profile record: %w", err)
	}
	var w wireProfile
	if err := json.Unmarshal(raw, &w); err != nil {
		return Profile{}, fmt.Errorf("decode profile record: %w", err)
	}
	if w.ID == "" {
		return Profile{}, ErrIncompleteProfile
	}
	p := Profile{
		ID:          w.ID,
		DisplayName: w.DisplayName,
		Role:        ParseRole(w.Role),
	}
	if w.TeamID != nil {
		p.TeamID = *w.TeamID
	}
	return p, nil
}
