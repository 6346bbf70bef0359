package matches

import "time"

// Column names shared by every data store backend.
const (
	ColumnID         = "id"
	ColumnStatus     = "status"
	ColumnHomeScore  = "home_score"
	ColumnAwayScore  = "away_score"
	ColumnStartTime  = "start_time"
	ColumnHomeTeamID = "home_team_id"
	ColumnAwayTeamID = "away_team_id"
	ColumnRevision   = "revision"
	ColumnUpdatedAt  = "updated_at"

	JoinHomeTeam = "home_team"
	JoinAwayTeam = "away_team"
)

// Match is one fixture between two teams with its live score.
// Team names are resolved from the teams table when the match is read.
type Match struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	HomeScore    int       `json:"home_score"`
	AwayScore    int       `json:"away_score"`
	StartTime    time.Time `json:"start_time"`
	HomeTeamID   string    `json:"home_team_id"`
	AwayTeamID   string    `json:"away_team_id"`
	HomeTeamName string    `json:"home_team_name"`
	AwayTeamName string    `json:"away_team_name"`
	Revision     int64     `json:"revision,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Score returns the current score for the given side.
func (m Match) Score(side Side) int {
	if side == SideAway {
		return m.AwayScore
	}
	return m.HomeScore
}

// InvolvesTeam reports whether teamID plays in the match.
func (m Match) InvolvesTeam(teamID string) bool {
	if teamID == "" {
		return false
	}
	return m.HomeTeamID == teamID || m.AwayTeamID == teamID
}

// NewMatch holds the fields an admin supplies when scheduling a match.
type NewMatch struct {
	HomeTeamID string    `json:"home_team_id"`
	AwayTeamID string    `json:"away_team_id"`
	StartTime  time.Time `json:"start_time"`
}

// Fields returns the columns inserted for a new match. Scores start at zero
// and the status at SCHEDULED.
func (n NewMatch) Fields() map[string]any {
	return map[string]any{
		ColumnHomeTeamID: n.HomeTeamID,
		ColumnAwayTeamID: n.AwayTeamID,
		ColumnStartTime:  n.StartTime.UTC().Format(time.RFC3339),
		ColumnStatus:     string(StatusScheduled),
		ColumnHomeScore:  0,
		ColumnAwayScore:  0,
	}
}
