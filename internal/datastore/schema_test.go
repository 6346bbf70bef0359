package datastore

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNormalizeFieldsCoercesMatchColumns(t *testing.T) {
	got, err := NormalizeFields(TableMatches, Record{
		"home_score": float64(3),
		"status":     "live",
		"start_time": "2024-02-01T10:00:00+02:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["home_score"] != 3 || got["status"] != "LIVE" {
		t.Fatalf("unexpected normalization %v", got)
	}
	if !got["start_time"].(time.Time).Equal(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start time %v", got["start_time"])
	}
}

func TestNormalizeFieldsRejectsBadInput(t *testing.T) {
	cases := []struct {
		table  string
		fields Record
		want   error
	}{
		{TableMatches, Record{"home_score": -1}, ErrInvalidInput},
		{TableMatches, Record{"home_score": 1.5}, ErrInvalidInput},
		{TableMatches, Record{"status": "PAUSED"}, ErrInvalidInput},
		{TableMatches, Record{"revision": 9}, ErrInvalidInput},
		{TableMatches, Record{"home_team_id": ""}, ErrInvalidInput},
		{"players", Record{"id": "p1"}, ErrUnknownTable},
	}
	for _, tc := range cases {
		if _, err := NormalizeFields(tc.table, tc.fields); !errors.Is(err, tc.want) {
			t.Fatalf("NormalizeFields(%s, %v) error = %v, want %v", tc.table, tc.fields, err, tc.want)
		}
	}
}

func TestNormalizeFieldsProfiles(t *testing.T) {
	got, err := NormalizeFields(TableProfiles, Record{"id": "u1", "role": "ADMIN", "team_id": ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["role"] != "admin" || got["team_id"] != nil {
		t.Fatalf("unexpected profile normalization %v", got)
	}
}

func TestSortedColumns(t *testing.T) {
	got := SortedColumns(Record{"b": 1, "a": 2, "c": 3})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order %v", got)
	}
}
