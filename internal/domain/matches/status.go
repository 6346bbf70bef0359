package matches

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a match.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLive      Status = "LIVE"
	StatusHalfTime  Status = "HALF_TIME"
	StatusFinished  Status = "FINISHED"
)

// ErrInvalidStatus is returned when a status string is not one of the known values.
var ErrInvalidStatus = errors.New("invalid match status")

var statusOrder = []Status{StatusScheduled, StatusLive, StatusHalfTime, StatusFinished}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Rank returns the position of s in the lifecycle, or -1 for unknown values.
// Transitions are not restricted; the rank only orders statuses for display.
func (s Status) Rank() int {
	for i, candidate := range statusOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ParseStatus normalizes raw input into a known status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}
