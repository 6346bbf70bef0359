// Package live composes the session store, entity cache, change feeds and
// mutation coordinator into one client instance and serves its projections.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/cache"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/feed"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
	"github.com/preston-bernstein/livescore-service/internal/mutation"
	"github.com/preston-bernstein/livescore-service/internal/session"
	"github.com/preston-bernstein/livescore-service/internal/view"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("live client closed")

var stopListener = (*feed.Listener).Stop

// Options configures a Client. Every field is optional.
type Options struct {
	Logger   *slog.Logger
	Recorder *metrics.Recorder
	// Location formats kickoff times in projections.
	Location      *time.Location
	ReconcileWait time.Duration
	// Profiles loads permission profiles; the user_profiles table of the
	// store by default.
	Profiles session.ProfileLoader
}

type scopeRef struct {
	listener *feed.Listener
	refs     int
}

type watcher struct {
	matchID string
	list    bool
	fn      func()
}

// Client is one signed-in (or anonymous) viewer of live matches.
type Client struct {
	store    datastore.Store
	cache    *cache.Cache
	registry *feed.Registry
	session  *session.Store
	coord    *mutation.Coordinator
	logger   *slog.Logger
	metrics  *metrics.Recorder
	location *time.Location

	busy atomic.Int32

	mu      sync.Mutex
	scopes  map[feed.Scope]*scopeRef
	lastErr string
	started bool
	closed  bool
	unsubs  []func()

	watchMu  sync.Mutex
	watchers map[uint64]watcher
	nextW    uint64
}

// New constructs a Client reading and writing through store.
func New(store datastore.Store, authenticator session.Authenticator, opts Options) *Client {
	loader := opts.Profiles
	if loader == nil {
		loader = session.DataStoreProfiles{Store: store}
	}
	c := &Client{
		store:    store,
		cache:    cache.New(),
		registry: feed.NewRegistry(),
		logger:   opts.Logger,
		metrics:  opts.Recorder,
		location: opts.Location,
		scopes:   make(map[feed.Scope]*scopeRef),
		watchers: make(map[uint64]watcher),
	}
	c.session = session.NewStore(authenticator, loader, opts.Logger)
	c.coord = mutation.New(store, c.cache, c.session, mutation.Options{
		Registry:      c.registry,
		ReconcileWait: opts.ReconcileWait,
		Logger:        opts.Logger,
		Recorder:      opts.Recorder,
		OnError:       c.setError,
	})
	return c
}

// Start initializes the session. Projections follow cache and session
// changes from here on.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.unsubs = append(c.unsubs,
		c.cache.Subscribe(cache.All, func(id string, _ cache.Entry) { c.changed(id) }),
		c.session.Subscribe(func(snap session.Snapshot) {
			if snap.Err != nil {
				c.setError(snap.Err)
				return
			}
			c.changedAll()
		}),
	)
	c.mu.Unlock()

	if err := c.session.Init(ctx); err != nil {
		c.setError(err)
		return err
	}
	return nil
}

// Session returns the current session state.
func (c *Client) Session() session.Snapshot {
	return c.session.Snapshot()
}

// EnterMatch follows one match. Entering a scope that is already followed
// only adds a reference; an interrupted feed is restarted.
func (c *Client) EnterMatch(ctx context.Context, matchID string) error {
	return c.enter(ctx, feed.Scope{MatchID: matchID})
}

// LeaveMatch releases one reference to the match scope.
func (c *Client) LeaveMatch(ctx context.Context, matchID string) error {
	return c.leave(ctx, feed.Scope{MatchID: matchID})
}

// EnterCollection follows every match.
func (c *Client) EnterCollection(ctx context.Context) error {
	return c.enter(ctx, feed.Scope{})
}

// LeaveCollection releases one reference to the collection scope.
func (c *Client) LeaveCollection(ctx context.Context) error {
	return c.leave(ctx, feed.Scope{})
}

func (c *Client) enter(ctx context.Context, scope feed.Scope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ref, ok := c.scopes[scope]
	if ok && !ref.listener.Status().Interrupted {
		ref.refs++
		c.mu.Unlock()
		return nil
	}
	var stale *feed.Listener
	refs := 1
	if ok {
		stale = ref.listener
		refs = ref.refs + 1
	}
	listener := feed.New(c.store, c.cache, scope, feed.Options{
		Logger:   c.logger,
		Recorder: c.metrics,
		Registry: c.registry,
		OnError:  c.setError,
	})
	c.scopes[scope] = &scopeRef{listener: listener, refs: refs}
	c.mu.Unlock()

	if stale != nil {
		logging.Info(c.logger, "restarting interrupted feed", logging.FieldScope, scope.String())
		if err := stopListener(stale, ctx); err != nil {
			logging.Error(c.logger, "failed to stop interrupted feed", err, logging.FieldScope, scope.String())
			c.setError(fmt.Errorf("stop interrupted feed %s: %w", scope, err))
		}
	}
	return listener.Start(ctx)
}

func (c *Client) leave(ctx context.Context, scope feed.Scope) error {
	c.mu.Lock()
	ref, ok := c.scopes[scope]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	ref.refs--
	if ref.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.scopes, scope)
	c.mu.Unlock()
	return ref.listener.Stop(ctx)
}

// FeedStatus returns the status of the listener for scope.
func (c *Client) FeedStatus(scope feed.Scope) (feed.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.scopes[scope]
	if !ok {
		return feed.Status{}, false
	}
	return ref.listener.Status(), true
}

// MatchView projects the cached state of one match.
func (c *Client) MatchView(matchID string) view.MatchView {
	return view.Project(matchID, c.cache.Lookup(matchID), c.session.Profile(), c.viewOptions())
}

// ListView projects the cached collection.
func (c *Client) ListView() view.ListView {
	return view.ProjectList(c.cache.List(), c.cache.CollectionLoaded(), c.session.Profile(), c.viewOptions())
}

// WatchMatch calls fn with a fresh projection of matchID whenever the match,
// the session or the client state changes. The returned func stops it.
func (c *Client) WatchMatch(matchID string, fn func(view.MatchView)) func() {
	return c.watch(watcher{matchID: matchID, fn: func() { fn(c.MatchView(matchID)) }})
}

// WatchList calls fn with a fresh collection projection on every change.
func (c *Client) WatchList(fn func(view.ListView)) func() {
	return c.watch(watcher{list: true, fn: func() { fn(c.ListView()) }})
}

// IncrementScore adds a goal for side. A success clears the last error.
func (c *Client) IncrementScore(ctx context.Context, matchID string, side matches.Side) error {
	return c.mutate(func() error {
		return c.coord.IncrementScore(ctx, matchID, side)
	})
}

// SetStatus changes the status of a match. A success clears the last error.
func (c *Client) SetStatus(ctx context.Context, matchID string, status matches.Status) error {
	return c.mutate(func() error {
		return c.coord.SetStatus(ctx, matchID, status)
	})
}

// CreateMatch schedules a match. A success clears the last error.
func (c *Client) CreateMatch(ctx context.Context, nm matches.NewMatch) (matches.Match, error) {
	var created matches.Match
	err := c.mutate(func() error {
		m, err := c.coord.CreateMatch(ctx, nm)
		created = m
		return err
	})
	return created, err
}

// LastError returns the most recent failure message, empty when none.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close stops every feed and the session. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	scopes := c.scopes
	c.scopes = make(map[feed.Scope]*scopeRef)
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	ordered := make([]feed.Scope, 0, len(scopes))
	for scope := range scopes {
		ordered = append(ordered, scope)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MatchID < ordered[j].MatchID })

	var errs []error
	for _, scope := range ordered {
		if err := scopes[scope].listener.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, unsub := range unsubs {
		unsub()
	}
	c.session.Close()
	return errors.Join(errs...)
}

func (c *Client) mutate(fn func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.lastErr = ""
	c.mu.Unlock()

	c.busy.Add(1)
	c.changedAll()
	err := fn()
	c.busy.Add(-1)

	if err != nil {
		c.setError(err)
		return err
	}
	c.changedAll()
	return nil
}

func (c *Client) viewOptions() view.Options {
	return view.Options{
		Location:  c.location,
		Updating:  c.busy.Load() > 0,
		LastError: c.LastError(),
	}
}

func (c *Client) setError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.changedAll()
}

func (c *Client) watch(w watcher) func() {
	c.watchMu.Lock()
	id := c.nextW
	c.nextW++
	c.watchers[id] = w
	c.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
		})
	}
}

// changed re-projects the watchers interested in matchID.
func (c *Client) changed(matchID string) {
	c.notify(func(w watcher) bool { return w.list || w.matchID == matchID })
}

func (c *Client) changedAll() {
	c.notify(func(watcher) bool { return true })
}

func (c *Client) notify(match func(watcher) bool) {
	c.watchMu.Lock()
	fns := make([]func(), 0, len(c.watchers))
	for _, w := range c.watchers {
		if match(w) {
			fns = append(fns, w.fn)
		}
	}
	c.watchMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
