package matches

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrIncompleteRecord marks a record that cannot be turned into a full Match,
// typically a change payload without the joined team names.
var ErrIncompleteRecord = errors.New("incomplete match record")

type teamRef struct {
	Name string `json:"name"`
}

type wireMatch struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	HomeScore    *int            `json:"home_score"`
	AwayScore    *int            `json:"away_score"`
	StartTime    *time.Time      `json:"start_time"`
	HomeTeamID   string          `json:"home_team_id"`
	AwayTeamID   string          `json:"away_team_id"`
	HomeTeamName string          `json:"home_team_name"`
	AwayTeamName string          `json:"away_team_name"`
	HomeTeam     json.RawMessage `json:"home_team"`
	AwayTeam     json.RawMessage `json:"away_team"`
	Revision     int64           `json:"revision"`
	UpdatedAt    *time.Time      `json:"updated_at"`
}

// FromRecord decodes a data store record into a Match. The home_team and
// away_team joins may arrive as an object, a one-element array or null; flat
// home_team_name/away_team_name columns are accepted as well.
func FromRecord(rec map[string]any) (Match, error) {
	if len(rec) == 0 {
		return Match{}, fmt.Errorf("%w: empty record", ErrIncompleteRecord)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return Match{}, fmt.Errorf("encode match record: %w", err)
	}
	var w wireMatch
	if err := json.Unmarshal(raw, &w); err != nil {
		return Match{}, fmt.Errorf("decode match record: %w", err)
	}

	homeName := w.HomeTeamName
	if name, ok := joinedName(w.HomeTeam); ok {
		homeName = name
	}
	awayName := w.AwayTeamName
	if name, ok := joinedName(w.AwayTeam); ok {
		awayName = name
	}

	switch {
	case w.ID == "":
		return Match{}, fmt.Errorf("%w: missing id", ErrIncompleteRecord)
	case w.Status == "":
		return Match{}, fmt.Errorf("%w: missing status", ErrIncompleteRecord)
	case w.HomeScore == nil || w.AwayScore == nil:
		return Match{}, fmt.Errorf("%w: missing score", ErrIncompleteRecord)
	case w.HomeTeamID == "" || w.AwayTeamID == "":
		return Match{}, fmt.Errorf("%w: missing team reference", ErrIncompleteRecord)
	case homeName == "" || awayName == "":
		return Match{}, fmt.Errorf("%w: missing team name", ErrIncompleteRecord)
	}

	status, err := ParseStatus(w.Status)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %w", ErrIncompleteRecord, err)
	}

	m := Match{
		ID:           w.ID,
		Status:       status,
		HomeScore:    *w.HomeScore,
		AwayScore:    *w.AwayScore,
		HomeTeamID:   w.HomeTeamID,
		AwayTeamID:   w.AwayTeamID,
		HomeTeamName: homeName,
		AwayTeamName: awayName,
		Revision:     w.Revision,
	}
	if w.StartTime != nil {
		m.StartTime = w.StartTime.UTC()
	}
	if w.UpdatedAt != nil {
		m.UpdatedAt = w.UpdatedAt.UTC()
	}
	return m, nil
}

// joinedName extracts the team name from a join that may be an object, a
// one-element array or null.
func joinedName(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	switch raw[0] {
	case '{':
		var ref teamRef
		if err := json.Unmarshal(raw, &ref); err != nil || ref.Name == "" {
			return "", false
		}
		return ref.Name, true
	case '[':
		var refs []teamRef
		if err := json.Unmarshal(raw, &refs); err != nil || len(refs) != 1 || refs[0].Name == "" {
			return "", false
		}
		return refs[0].Name, true
	default:
		return "", false
	}
}
