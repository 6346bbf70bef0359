package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
)

// Querier is the subset of pgxpool.Pool used by Store. pgxmock pools satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type tableSpec struct {
	from     string
	alias    string
	columns  []string
	readable map[string]bool
	scan     func(scanner) (datastore.Record, error)
}

func (t tableSpec) qualify(col string) string {
	if t.alias == "" {
		return col
	}
	return t.alias + "." + col
}

var tables = map[string]tableSpec{
	datastore.TableMatches: {
		from: "matches m" +
			" LEFT JOIN teams ht ON ht.id = m.home_team_id" +
			" LEFT JOIN teams aw ON aw.id = m.away_team_id",
		alias: "m",
		columns: []string{
			"m.id", "m.status", "m.home_score", "m.away_score", "m.start_time",
			"m.home_team_id", "m.away_team_id", "m.revision", "m.updated_at",
			"ht.name", "aw.name",
		},
		readable: columnSet(
			matches.ColumnID, matches.ColumnStatus, matches.ColumnHomeScore, matches.ColumnAwayScore,
			matches.ColumnStartTime, matches.ColumnHomeTeamID, matches.ColumnAwayTeamID,
			matches.ColumnRevision, matches.ColumnUpdatedAt,
		),
		scan: scanMatch,
	},
	datastore.TableTeams: {
		from:     "teams",
		columns:  []string{"id", "name"},
		readable: columnSet(datastore.ColumnID, "name"),
		scan:     scanTeam,
	},
	datastore.TableProfiles: {
		from:    "user_profiles",
		columns: []string{"id", "display_name", "role", "team_id"},
		readable: columnSet(
			profiles.ColumnID, profiles.ColumnDisplayName, profiles.ColumnRole, profiles.ColumnTeamID,
		),
		scan: scanProfile,
	},
}

func columnSet(cols ...string) map[string]bool {
	out := make(map[string]bool, len(cols))
	for _, c := range cols {
		out[c] = true
	}
	return out
}

func lookupTable(table string) (tableSpec, error) {
	spec, ok := tables[table]
	if !ok {
		return tableSpec{}, datastore.CheckTable(table)
	}
	return spec, nil
}

func (t tableSpec) checkFilter(filter datastore.Filter) error {
	for col := range filter {
		if !t.readable[col] {
			return fmt.Errorf("%w: unknown filter column %q", datastore.ErrInvalidInput, col)
		}
	}
	return nil
}

// Store implements datastore.Store on PostgreSQL.
type Store struct {
	q      Querier
	sb     sq.StatementBuilderType
	dial   dialFunc
	logger *slog.Logger
	buffer int

	reconnectAttempts uint64
	reconnectBackoff  time.Duration

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextID  uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used by the change listener.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBuffer sets the per-subscription event buffer.
func WithBuffer(n int) Option {
	return func(s *Store) { s.buffer = n }
}

// WithReconnect configures how often the change listener tries to
// re-establish a lost connection before failing every subscription.
func WithReconnect(attempts int, initial time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.reconnectAttempts = uint64(attempts)
		}
		if initial > 0 {
			s.reconnectBackoff = initial
		}
	}
}

func withDialer(dial dialFunc) Option {
	return func(s *Store) { s.dial = dial }
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	return newStore(pool, append([]Option{withDialer(poolDialer(pool))}, opts...)...)
}

func newStore(q Querier, opts ...Option) *Store {
	s := &Store{
		q:                 q,
		sb:                sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		subs:              make(map[uint64]*subscriber),
		reconnectAttempts: 5,
		reconnectBackoff:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FetchOne(ctx context.Context, table, id string) (datastore.Record, error) {
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	query, args, err := s.sb.Select(spec.columns...).
		From(spec.from).
		Where(sq.Eq{spec.qualify(datastore.ColumnID): id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch %s: %w", table, err)
	}

	rec, err := spec.scan(s.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, table, id)
	}
	return rec, nil
}

func (s *Store) FetchMany(ctx context.Context, table string, q datastore.Query) ([]datastore.Record, error) {
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := spec.checkFilter(q.Filter); err != nil {
		return nil, err
	}

	builder := s.sb.Select(spec.columns...).From(spec.from)
	cols := make([]string, 0, len(q.Filter))
	for col := range q.Filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		builder = builder.Where(sq.Eq{spec.qualify(col): q.Filter[col]})
	}

	order := q.Order
	if len(order) == 0 {
		order = []datastore.Order{{Column: datastore.ColumnID}}
	}
	for _, o := range order {
		if !spec.readable[o.Column] {
			return nil, fmt.Errorf("%w: unknown order column %q", datastore.ErrInvalidInput, o.Column)
		}
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}
		builder = builder.OrderBy(spec.qualify(o.Column) + dir)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list %s: %w", table, err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, table, "*")
	}
	defer rows.Close()

	var out []datastore.Record
	for rows.Next() {
		rec, err := spec.scan(rows)
		if err != nil {
			return nil, mapError(err, table, "*")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, table, "*")
	}
	return out, nil
}

// Update applies fields to the row. Match revisions and updated_at are
// maintained by a trigger.
func (s *Store) Update(ctx context.Context, table, id string, fields datastore.Record) error {
	normalized, err := datastore.NormalizeFields(table, fields)
	if err != nil {
		return err
	}
	if len(normalized) == 0 {
		return fmt.Errorf("%w: no fields to update", datastore.ErrInvalidInput)
	}
	if newID, ok := normalized[datastore.ColumnID]; ok && newID != id {
		return fmt.Errorf("%w: id cannot change", datastore.ErrInvalidInput)
	}

	query, args, err := s.sb.Update(table).
		SetMap(map[string]any(normalized)).
		Where(sq.Eq{datastore.ColumnID: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update %s: %w", table, err)
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, table, id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", table, id, datastore.ErrNotFound)
	}
	return nil
}

// Insert creates a row and returns it as FetchOne would.
func (s *Store) Insert(ctx context.Context, table string, fields datastore.Record) (datastore.Record, error) {
	normalized, err := datastore.NormalizeFields(table, fields)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: no fields to insert", datastore.ErrInvalidInput)
	}

	query, args, err := s.sb.Insert(table).
		SetMap(map[string]any(normalized)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert %s: %w", table, err)
	}

	var id string
	if err := s.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return nil, mapError(err, table, normalized.String(datastore.ColumnID))
	}
	return s.FetchOne(ctx, table, id)
}

func scanMatch(row scanner) (datastore.Record, error) {
	var (
		id, status, homeID, awayID string
		homeScore, awayScore       int
		start, updated             time.Time
		revision                   int64
		homeName, awayName         *string
	)
	if err := row.Scan(&id, &status, &homeScore, &awayScore, &start, &homeID, &awayID, &revision, &updated, &homeName, &awayName); err != nil {
		return nil, err
	}
	return datastore.Record{
		matches.ColumnID:         id,
		matches.ColumnStatus:     status,
		matches.ColumnHomeScore:  homeScore,
		matches.ColumnAwayScore:  awayScore,
		matches.ColumnStartTime:  start.UTC(),
		matches.ColumnHomeTeamID: homeID,
		matches.ColumnAwayTeamID: awayID,
		matches.ColumnRevision:   revision,
		matches.ColumnUpdatedAt:  updated.UTC(),
		matches.JoinHomeTeam:     teamJoin(homeName),
		matches.JoinAwayTeam:     teamJoin(awayName),
	}, nil
}

func teamJoin(name *string) any {
	if name == nil {
		return nil
	}
	return map[string]any{"name": *name}
}

func scanTeam(row scanner) (datastore.Record, error) {
	var id, name string
	if err := row.Scan(&id, &name); err != nil {
		return nil, err
	}
	return datastore.Record{datastore.ColumnID: id, "name": name}, nil
}

func scanProfile(row scanner) (datastore.Record, error) {
	var (
		id, displayName, role string
		teamID                *string
	)
	if err := row.Scan(&id, &displayName, &role, &teamID); err != nil {
		return nil, err
	}
	rec := datastore.Record{
		profiles.ColumnID:          id,
		profiles.ColumnDisplayName: displayName,
		profiles.ColumnRole:        role,
		profiles.ColumnTeamID:      nil,
	}
	if teamID != nil {
		rec[profiles.ColumnTeamID] = *teamID
	}
	return rec, nil
}
