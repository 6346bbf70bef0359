package datastore

import (
	"fmt"
	"sort"

	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
)

type columnKind int

const (
	kindString columnKind = iota
	kindText
	kindOptionalString
	kindScore
	kindTime
	kindStatus
	kindRole
)

// writable lists the columns callers may set per table. Revision and
// updated_at are maintained by the backend.
var writable = map[string]map[string]columnKind{
	TableMatches: {
		matches.ColumnID:         kindString,
		matches.ColumnStatus:     kindStatus,
		matches.ColumnHomeScore:  kindScore,
		matches.ColumnAwayScore:  kindScore,
		matches.ColumnStartTime:  kindTime,
		matches.ColumnHomeTeamID: kindString,
		matches.ColumnAwayTeamID: kindString,
	},
	TableTeams: {
		ColumnID: kindString,
		"name":   kindString,
	},
	TableProfiles: {
		profiles.ColumnID:          kindString,
		profiles.ColumnDisplayName: kindText,
		profiles.ColumnRole:        kindRole,
		profiles.ColumnTeamID:      kindOptionalString,
	},
}

// KnownTable reports whether table is exposed by the data store.
func KnownTable(table string) bool {
	_, ok := writable[table]
	return ok
}

// CheckTable returns ErrUnknownTable for tables the data store does not expose.
func CheckTable(table string) error {
	if !KnownTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// NormalizeFields validates fields against the writable columns of table and
// coerces them to canonical Go types: scores to int, start_time to UTC
// time.Time, status and role to their string form.
func NormalizeFields(table string, fields Record) (Record, error) {
	if err := CheckTable(table); err != nil {
		return nil, err
	}
	cols := writable[table]
	out := make(Record, len(fields))
	for col, raw := range fields {
		kind, ok := cols[col]
		if !ok {
			return nil, fmt.Errorf("%w: column %q is not writable on %s", ErrInvalidInput, col, table)
		}
		val, err := normalizeValue(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, col, err)
		}
		out[col] = val
	}
	return out, nil
}

// SortedColumns returns the keys of fields in a stable order.
func SortedColumns(fields Record) []string {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func normalizeValue(kind columnKind, raw any) (any, error) {
	switch kind {
	case kindScore:
		n, ok := AsInt(raw)
		if !ok || n < 0 {
			return nil, fmt.Errorf("expected non-negative integer, got %v", raw)
		}
		return n, nil
	case kindTime:
		t, ok := AsTime(raw)
		if !ok {
			return nil, fmt.Errorf("expected RFC3339 time, got %v", raw)
		}
		return t.UTC(), nil
	case kindStatus:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected status string, got %v", raw)
		}
		status, err := matches.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		return string(status), nil
	case kindRole:
		s, _ := raw.(string)
		return string(profiles.ParseRole(s)), nil
	case kindText:
		if raw == nil {
			return "", nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %v", raw)
		}
		return s, nil
	case kindOptionalString:
		if raw == nil {
			return nil, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %v", raw)
		}
		if s == "" {
			return nil, nil
		}
		return s, nil
	default:
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("expected non-empty string, got %v", raw)
		}
		return s, nil
	}
}
