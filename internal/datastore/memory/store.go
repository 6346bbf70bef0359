// Package memory is an in-process data store that resolves team joins at read
// time and broadcasts every change to its subscribers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
)

type subscriber struct {
	table  string
	filter datastore.Filter
	feed   *datastore.Feed
}

// Store keeps every table in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]datastore.Record
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	now    func() time.Time
	newID  func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithBuffer sets the per-subscription event buffer.
func WithBuffer(n int) Option {
	return func(s *Store) { s.buffer = n }
}

// WithClock overrides the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how ids are generated on insert.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: map[string]map[string]datastore.Record{
			datastore.TableMatches:  {},
			datastore.TableTeams:    {},
			datastore.TableProfiles: {},
		},
		subs:  make(map[uint64]*subscriber),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FetchOne(ctx context.Context, table, id string) (datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", table, id, datastore.ErrNotFound)
	}
	return s.projectLocked(table, row), nil
}

func (s *Store) FetchMany(ctx context.Context, table string, q datastore.Query) ([]datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}
	s.mu.RLock()
	result := make([]datastore.Record, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		if q.Filter.Matches(row) {
			result = append(result, s.projectLocked(table, row))
		}
	}
	s.mu.RUnlock()

	sortRecords(result, q.Order)
	return result, nil
}

func (s *Store) Update(ctx context.Context, table, id string, fields datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := datastore.NormalizeFields(table, fields)
	if err != nil {
		return err
	}
	if _, ok := normalized[datastore.ColumnID]; ok {
		return fmt.Errorf("%w: id cannot be updated", datastore.ErrInvalidInput)
	}

	s.mu.Lock()
	row, ok := s.tables[table][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s %s: %w", table, id, datastore.ErrNotFound)
	}
	if err := s.checkReferencesLocked(table, normalized); err != nil {
		s.mu.Unlock()
		return err
	}
	updated := row.Clone()
	for col, val := range normalized {
		updated[col] = val
	}
	s.touchLocked(table, updated, row)
	s.tables[table][id] = updated
	s.publishChangeLocked(table, datastore.OpUpdate, updated)
	s.mu.Unlock()
	return nil
}

func (s *Store) Insert(ctx context.Context, table string, fields datastore.Record) (datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := datastore.NormalizeFields(table, fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := normalized.String(datastore.ColumnID)
	if id == "" {
		id = s.newID()
		normalized[datastore.ColumnID] = id
	}
	if _, exists := s.tables[table][id]; exists {
		return nil, fmt.Errorf("%w: %s %s already exists", datastore.ErrInvalidInput, table, id)
	}
	if err := s.checkReferencesLocked(table, normalized); err != nil {
		return nil, err
	}
	if table == datastore.TableMatches {
		if normalized.String(matches.ColumnHomeTeamID) == "" || normalized.String(matches.ColumnAwayTeamID) == "" {
			return nil, fmt.Errorf("%w: match needs both teams", datastore.ErrInvalidInput)
		}
		applyMatchDefaults(normalized)
	}
	s.touchLocked(table, normalized, nil)
	s.tables[table][id] = normalized
	s.publishChangeLocked(table, datastore.OpInsert, normalized)
	return s.projectLocked(table, normalized), nil
}

// Delete removes a row and notifies subscribers.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := datastore.CheckTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tables[table][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", table, id, datastore.ErrNotFound)
	}
	delete(s.tables[table], id)
	s.publishLocked(table, row, datastore.Event{
		Table:     table,
		Operation: datastore.OpDelete,
		New:       datastore.Record{datastore.ColumnID: id},
	})
	return nil
}

// SubscribeChanges registers a feed for table. The subscription lives until
// Close is called or DropSubscriptions ends it.
func (s *Store) SubscribeChanges(ctx context.Context, table string, filter datastore.Filter) (datastore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	key := s.nextID
	feed := datastore.NewFeed(s.buffer, func() {
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
	})
	s.subs[key] = &subscriber{table: table, filter: copyFilter(filter), feed: feed}
	return feed, nil
}

// DropSubscriptions ends every open subscription with err, as a lost
// connection would.
func (s *Store) DropSubscriptions(err error) {
	if err == nil {
		err = datastore.ErrTransportInterrupted
	}
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.feed.Fail(err)
	}
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// publishChangeLocked notifies subscribers of a row change. Team changes also
// send a bare notification to match subscribers since joined names are stale.
func (s *Store) publishChangeLocked(table string, op datastore.Operation, row datastore.Record) {
	s.publishLocked(table, row, datastore.Event{
		Table:     table,
		Operation: op,
		New:       s.projectLocked(table, row),
	})
	if table == datastore.TableTeams && op == datastore.OpUpdate {
		teamID := row.String(datastore.ColumnID)
		for _, match := range s.tables[datastore.TableMatches] {
			if match.String(matches.ColumnHomeTeamID) != teamID && match.String(matches.ColumnAwayTeamID) != teamID {
				continue
			}
			s.publishLocked(datastore.TableMatches, match, datastore.Event{
				Table:     datastore.TableMatches,
				Operation: datastore.OpUpdate,
			})
		}
	}
}

func (s *Store) publishLocked(table string, row datastore.Record, ev datastore.Event) {
	for key, sub := range s.subs {
		if sub.table != table || !sub.filter.Matches(row) {
			continue
		}
		if !sub.feed.Publish(ev) {
			delete(s.subs, key)
		}
	}
}

// projectLocked returns a copy of row with joins resolved for matches.
func (s *Store) projectLocked(table string, row datastore.Record) datastore.Record {
	out := row.Clone()
	if table != datastore.TableMatches {
		return out
	}
	out[matches.JoinHomeTeam] = s.teamRefLocked(row.String(matches.ColumnHomeTeamID))
	out[matches.JoinAwayTeam] = s.teamRefLocked(row.String(matches.ColumnAwayTeamID))
	return out
}

func (s *Store) teamRefLocked(id string) any {
	team, ok := s.tables[datastore.TableTeams][id]
	if !ok {
		return nil
	}
	return map[string]any{"name": team.String("name")}
}

func (s *Store) checkReferencesLocked(table string, fields datastore.Record) error {
	if table != datastore.TableMatches {
		return nil
	}
	for _, col := range []string{matches.ColumnHomeTeamID, matches.ColumnAwayTeamID} {
		id, ok := fields[col]
		if !ok {
			continue
		}
		if _, exists := s.tables[datastore.TableTeams][fmt.Sprint(id)]; !exists {
			return fmt.Errorf("%w: unknown team %v", datastore.ErrInvalidInput, id)
		}
	}
	return nil
}

func (s *Store) touchLocked(table string, row, previous datastore.Record) {
	if table != datastore.TableMatches {
		return
	}
	rev := int64(0)
	if previous != nil {
		if n, ok := datastore.AsInt(previous[matches.ColumnRevision]); ok {
			rev = int64(n)
		}
	}
	row[matches.ColumnRevision] = rev + 1
	row[matches.ColumnUpdatedAt] = s.now().UTC()
}

func applyMatchDefaults(row datastore.Record) {
	defaults := map[string]any{
		matches.ColumnStatus:    string(matches.StatusScheduled),
		matches.ColumnHomeScore: 0,
		matches.ColumnAwayScore: 0,
	}
	for col, val := range defaults {
		if _, ok := row[col]; !ok {
			row[col] = val
		}
	}
}

func copyFilter(f datastore.Filter) datastore.Filter {
	if f == nil {
		return nil
	}
	out := make(datastore.Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func sortRecords(records []datastore.Record, order []datastore.Order) {
	if len(order) == 0 {
		order = []datastore.Order{{Column: datastore.ColumnID}}
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range order {
			c := compareValues(records[i][o.Column], records[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	if ta, ok := datastore.AsTime(a); ok {
		if tb, ok := datastore.AsTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if na, ok := datastore.AsInt(a); ok {
		if nb, ok := datastore.AsInt(b); ok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}
