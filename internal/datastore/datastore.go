// Package datastore defines the contract shared by every backend that holds
// matches, teams and user profiles and pushes change notifications for them.
package datastore

import (
	"context"
	"fmt"
)

// Tables exposed by every backend.
const (
	TableMatches  = "matches"
	TableTeams    = "teams"
	TableProfiles = "user_profiles"
)

// ColumnID is the primary key column of every table.
const ColumnID = "id"

// Record is one row keyed by column name. Match rows carry their team joins
// under home_team and away_team.
type Record map[string]any

// String returns the value of key as a string, or "" when missing.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter restricts reads and subscriptions to rows whose columns equal the given values.
type Filter map[string]any

// Order sorts FetchMany results by one column.
type Order struct {
	Column     string
	Descending bool
}

// Query narrows a FetchMany call.
type Query struct {
	Filter Filter
	Order  []Order
}

// Operation is the kind of row change carried by an Event.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Event is one change notification. New is nil for bare notifications that
// only signal that the scope changed.
type Event struct {
	Table     string    `json:"table"`
	Operation Operation `json:"operation"`
	New       Record    `json:"new,omitempty"`
}

// Bare reports whether the event carries no row payload.
func (e Event) Bare() bool {
	return len(e.New) == 0
}

// Subscription delivers change events in order until closed. The Events
// channel is closed when the subscription ends; Err explains why when the
// end was not requested through Close.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Store is the persistence contract used by the client core and the service.
type Store interface {
	FetchOne(ctx context.Context, table, id string) (Record, error)
	FetchMany(ctx context.Context, table string, q Query) ([]Record, error)
	Update(ctx context.Context, table, id string, fields Record) error
	Insert(ctx context.Context, table string, fields Record) (Record, error)
	SubscribeChanges(ctx context.Context, table string, filter Filter) (Subscription, error)
}

// Matches reports whether rec satisfies every equality in f.
func (f Filter) Matches(rec Record) bool {
	for col, want := range f {
		if rec.String(col) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
