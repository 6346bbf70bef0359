// Package mutation performs authorization-gated writes against the data store
// and reconciles the entity cache once the store has confirmed them. The cache
// is never updated optimistically.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/authz"
	"github.com/preston-bernstein/livescore-service/internal/cache"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

// DefaultReconcileWait bounds how long a write waits for its feed echo.
const DefaultReconcileWait = 2 * time.Second

// Operation names used in errors, logs and metrics.
const (
	OpIncrementScore = "increment_score"
	OpSetStatus      = "set_status"
	OpCreateMatch    = "create_match"
)

const (
	outcomeOK      = "ok"
	outcomeDenied  = "denied"
	outcomeInvalid = "invalid"
	outcomeFailed  = "failed"
)

// ProfileSource returns the permission profile of the current user, nil when
// signed out or not yet loaded.
type ProfileSource interface {
	Profile() *profiles.Profile
}

// FeedRegistry reports whether a live change feed covers a match.
type FeedRegistry interface {
	FeedActive(matchID string) bool
}

// Options configures a Coordinator. Every field is optional.
type Options struct {
	Registry      FeedRegistry
	ReconcileWait time.Duration
	Logger        *slog.Logger
	Recorder      *metrics.Recorder
	// OnError receives reconciliation failures that follow a successful write.
	OnError func(error)
}

// Coordinator runs score, status and create mutations for one client.
type Coordinator struct {
	store    datastore.Store
	cache    *cache.Cache
	profiles ProfileSource
	registry FeedRegistry
	wait     time.Duration
	logger   *slog.Logger
	metrics  *metrics.Recorder
	onError  func(error)

	pending atomic.Int64
}

// New constructs a Coordinator writing through store and reconciling c.
func New(store datastore.Store, c *cache.Cache, source ProfileSource, opts Options) *Coordinator {
	wait := opts.ReconcileWait
	if wait <= 0 {
		wait = DefaultReconcileWait
	}
	return &Coordinator{
		store:    store,
		cache:    c,
		profiles: source,
		registry: opts.Registry,
		wait:     wait,
		logger:   opts.Logger,
		metrics:  opts.Recorder,
		onError:  opts.OnError,
	}
}

// Pending returns the number of mutations still in flight.
func (c *Coordinator) Pending() int {
	return int(c.pending.Load())
}

// IncrementScore adds one goal to side. The new score is computed from the
// cached value at call time and sent as a single-field update; concurrent
// increments from stale caches are last-write-wins.
func (c *Coordinator) IncrementScore(ctx context.Context, matchID string, side matches.Side) error {
	start := time.Now()
	if !side.Valid() {
		c.metrics.RecordMutation(OpIncrementScore, outcomeInvalid, time.Since(start))
		return fmt.Errorf("%w: side %q", ErrInvalidArgument, side)
	}
	m, err := c.authorizeEdit(OpIncrementScore, matchID)
	if err != nil {
		c.metrics.RecordMutation(OpIncrementScore, outcomeDenied, time.Since(start))
		return err
	}
	fields := datastore.Record{side.Column(): m.Score(side) + 1}
	return c.update(ctx, OpIncrementScore, m, fields, start)
}

// SetStatus writes status without checking the transition.
func (c *Coordinator) SetStatus(ctx context.Context, matchID string, status matches.Status) error {
	start := time.Now()
	if !status.Valid() {
		c.metrics.RecordMutation(OpSetStatus, outcomeInvalid, time.Since(start))
		return fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}
	m, err := c.authorizeEdit(OpSetStatus, matchID)
	if err != nil {
		c.metrics.RecordMutation(OpSetStatus, outcomeDenied, time.Since(start))
		return err
	}
	fields := datastore.Record{matches.ColumnStatus: string(status)}
	return c.update(ctx, OpSetStatus, m, fields, start)
}

// CreateMatch schedules a new match and returns it once reconciled. The
// returned match may lack team names when neither the feed nor the re-fetch
// produced a full record.
func (c *Coordinator) CreateMatch(ctx context.Context, nm matches.NewMatch) (matches.Match, error) {
	start := time.Now()
	if err := validateNewMatch(nm); err != nil {
		c.metrics.RecordMutation(OpCreateMatch, outcomeInvalid, time.Since(start))
		return matches.Match{}, err
	}
	profile := c.currentProfile()
	if !authz.CanCreate(profile) {
		c.metrics.RecordMutation(OpCreateMatch, outcomeDenied, time.Since(start))
		logging.Info(c.logger, "mutation denied", logging.FieldOperation, OpCreateMatch, logging.FieldUserID, profileID(profile))
		return matches.Match{}, fmt.Errorf("%w: %s", ErrPermissionDenied, OpCreateMatch)
	}

	c.pending.Add(1)
	defer c.pending.Add(-1)

	// Only the collection scope can cover an id that does not exist yet.
	viaFeed := c.feedActive("")
	var (
		echo    <-chan struct{}
		resolve = func(string) {}
	)
	if viaFeed {
		var cancel func()
		echo, resolve, cancel = c.awaitInsertEcho()
		defer cancel()
	}

	rec, err := c.store.Insert(ctx, datastore.TableMatches, datastore.Record(nm.Fields()))
	if err != nil {
		return matches.Match{}, c.writeFailed(OpCreateMatch, "", err, start)
	}
	id := rec.String(matches.ColumnID)
	resolve(id)

	c.metrics.RecordMutation(OpCreateMatch, outcomeOK, time.Since(start))
	logging.Info(c.logger, "match created", logging.FieldMatchID, id)
	if id != "" {
		c.reconcile(ctx, id, viaFeed, echo)
	}
	if m, ok := c.cache.Get(id); ok {
		return m, nil
	}
	if m, err := matches.FromRecord(rec); err == nil {
		return m, nil
	}
	return matches.Match{ID: id}, nil
}

// awaitInsertEcho watches every cache change until resolve names the id of
// the inserted row. Changes seen before resolve are remembered so an echo
// that beats Insert's return is not lost.
func (c *Coordinator) awaitInsertEcho() (<-chan struct{}, func(id string), func()) {
	ch := make(chan struct{})
	var (
		mu       sync.Mutex
		once     sync.Once
		resolved bool
		want     string
		seen     = make(map[string]bool)
	)
	cancel := c.cache.Subscribe(cache.All, func(id string, _ cache.Entry) {
		mu.Lock()
		defer mu.Unlock()
		if !resolved {
			seen[id] = true
			return
		}
		if id != "" && id == want {
			once.Do(func() { close(ch) })
		}
	})
	resolve := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		resolved = true
		want = id
		if id != "" && seen[id] {
			once.Do(func() { close(ch) })
		}
		seen = nil
	}
	return ch, resolve, cancel
}

// authorizeEdit returns the cached match when the current profile may edit it.
func (c *Coordinator) authorizeEdit(op, matchID string) (matches.Match, error) {
	profile := c.currentProfile()
	m, ok := c.cache.Get(matchID)
	if !ok {
		logging.Info(c.logger, "mutation denied, match not loaded",
			logging.FieldOperation, op, logging.FieldMatchID, matchID, logging.FieldUserID, profileID(profile))
		return matches.Match{}, fmt.Errorf("%w: %s %s: match not loaded", ErrPermissionDenied, op, matchID)
	}
	if !authz.CanEdit(profile, &m) {
		logging.Info(c.logger, "mutation denied",
			logging.FieldOperation, op, logging.FieldMatchID, matchID, logging.FieldUserID, profileID(profile))
		return matches.Match{}, fmt.Errorf("%w: %s %s", ErrPermissionDenied, op, matchID)
	}
	return m, nil
}

// update sends fields for m and reconciles the cache after the store confirms.
func (c *Coordinator) update(ctx context.Context, op string, m matches.Match, fields datastore.Record, start time.Time) error {
	c.pending.Add(1)
	defer c.pending.Add(-1)

	viaFeed := c.feedActive(m.ID)
	var echo <-chan struct{}
	if viaFeed {
		ch, cancel := c.awaitEcho(m.ID, m.Revision)
		defer cancel()
		echo = ch
	}

	if err := c.store.Update(ctx, datastore.TableMatches, m.ID, fields); err != nil {
		return c.writeFailed(op, m.ID, err, start)
	}
	c.metrics.RecordMutation(op, outcomeOK, time.Since(start))
	logging.Info(c.logger, "mutation confirmed", logging.FieldOperation, op, logging.FieldMatchID, m.ID)

	c.reconcile(ctx, m.ID, viaFeed, echo)
	return nil
}

// awaitEcho returns a channel closed once the cache slot of id is replaced
// with a revision newer than baseline, or marked absent. A zero revision on
// either side accepts any replacement.
func (c *Coordinator) awaitEcho(id string, baseline int64) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	var once sync.Once
	cancel := c.cache.Subscribe(id, func(_ string, entry cache.Entry) {
		switch {
		case entry.State == cache.StateAbsent,
			baseline == 0,
			entry.Match.Revision == 0,
			entry.Match.Revision > baseline:
			once.Do(func() { close(ch) })
		}
	})
	return ch, cancel
}

// reconcile brings the cache slot of id up to date after a confirmed write.
func (c *Coordinator) reconcile(ctx context.Context, id string, viaFeed bool, echo <-chan struct{}) {
	if viaFeed {
		if !c.feedActive(id) {
			logging.Info(c.logger, "feed closed before write returned, skipping reconcile", logging.FieldMatchID, id)
			return
		}
		timer := time.NewTimer(c.wait)
		defer timer.Stop()
		select {
		case <-echo:
			return
		case <-ctx.Done():
			c.report(fmt.Errorf("reconcile %s: %w", id, ctx.Err()))
			return
		case <-timer.C:
			logging.Warn(c.logger, "feed echo timed out, re-fetching", logging.FieldMatchID, id, "wait", c.wait)
		}
		if !c.feedActive(id) {
			return
		}
	}
	c.refetch(ctx, id)
}

func (c *Coordinator) refetch(ctx context.Context, id string) {
	rec, err := c.store.FetchOne(ctx, datastore.TableMatches, id)
	if errors.Is(err, datastore.ErrNotFound) {
		c.cache.MarkAbsent(id)
		return
	}
	if err != nil {
		c.report(fmt.Errorf("reconcile %s: %w", id, err))
		return
	}
	m, err := matches.FromRecord(rec)
	if err != nil {
		c.report(fmt.Errorf("reconcile %s: %w", id, err))
		return
	}
	c.cache.Replace(m)
}

func (c *Coordinator) writeFailed(op, matchID string, err error, start time.Time) error {
	c.metrics.RecordMutation(op, outcomeFailed, time.Since(start))
	logging.Error(c.logger, "mutation failed", err, logging.FieldOperation, op, logging.FieldMatchID, matchID)
	return &RemoteWriteError{Op: op, MatchID: matchID, Err: err}
}

func (c *Coordinator) feedActive(matchID string) bool {
	return c.registry != nil && c.registry.FeedActive(matchID)
}

func (c *Coordinator) currentProfile() *profiles.Profile {
	if c.profiles == nil {
		return nil
	}
	return c.profiles.Profile()
}

func (c *Coordinator) report(err error) {
	logging.WarnErr(c.logger, "reconcile failed", err)
	if c.onError != nil {
		c.onError(err)
	}
}

func validateNewMatch(nm matches.NewMatch) error {
	home := strings.TrimSpace(nm.HomeTeamID)
	away := strings.TrimSpace(nm.AwayTeamID)
	switch {
	case home == "" || away == "":
		return fmt.Errorf("%w: both teams are required", ErrInvalidArgument)
	case home == away:
		return fmt.Errorf("%w: a team cannot play itself", ErrInvalidArgument)
	case nm.StartTime.IsZero():
		return fmt.Errorf("%w: start time is required", ErrInvalidArgument)
	}
	return nil
}

func profileID(p *profiles.Profile) string {
	if p == nil {
		return ""
	}
	return p.ID
}
