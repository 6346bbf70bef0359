package matches

import (
	"errors"
	"fmt"
	"strings"
)

// Side identifies which team's score a goal is credited to.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// ErrInvalidSide is returned for anything other than home or away.
var ErrInvalidSide = errors.New("invalid side")

// ParseSide normalizes raw input into a Side.
func ParseSide(raw string) (Side, error) {
	switch s := Side(strings.ToLower(strings.TrimSpace(raw))); s {
	case SideHome, SideAway:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
	}
}

// Valid reports whether s is home or away.
func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

// Column returns the score column written when s scores.
func (s Side) Column() string {
	if s == SideAway {
		return ColumnAwayScore
	}
	return ColumnHomeScore
}
