// Package feed keeps the entity cache in step with the data store's change
// notifications for one scope: a single match or the whole collection.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/cache"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

// ErrTransportInterrupted is reported when the subscription ends without Stop.
var ErrTransportInterrupted = datastore.ErrTransportInterrupted

// Scope selects what a Listener follows. An empty MatchID is the collection.
type Scope struct {
	MatchID string
}

// Collection reports whether the scope covers every match.
func (s Scope) Collection() bool {
	return s.MatchID == ""
}

func (s Scope) String() string {
	if s.Collection() {
		return "collection"
	}
	return "match:" + s.MatchID
}

// kind is the low-cardinality metric label of the scope.
func (s Scope) kind() string {
	if s.Collection() {
		return "collection"
	}
	return "match"
}

// Options configures a Listener. Every field is optional.
type Options struct {
	Logger   *slog.Logger
	Recorder *metrics.Recorder
	Registry *Registry
	OnError  func(error)
}

// Status describes the recent health of a listener.
type Status struct {
	Connected           bool
	Interrupted         bool
	Events              int
	LastEvent           time.Time
	LastError           string
	ConsecutiveFailures int
}

// IsReady reports whether the listener is subscribed and its transport is up.
func (s Status) IsReady() bool {
	return s.Connected && !s.Interrupted
}

// Listener applies change notifications of one scope to the cache.
type Listener struct {
	store    datastore.Store
	cache    *cache.Cache
	scope    Scope
	logger   *slog.Logger
	metrics  *metrics.Recorder
	registry *Registry
	onError  func(error)
	now      func() time.Time

	mu         sync.Mutex
	started    bool
	stopped    bool
	registered bool
	sub        datastore.Subscription
	cancel     context.CancelFunc
	done       chan struct{}

	statusMu sync.RWMutex
	status   Status
}

// New constructs a Listener for scope.
func New(store datastore.Store, c *cache.Cache, scope Scope, opts Options) *Listener {
	return &Listener{
		store:    store,
		cache:    c,
		scope:    scope,
		logger:   opts.Logger,
		metrics:  opts.Recorder,
		registry: opts.Registry,
		onError:  opts.OnError,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Scope returns the scope the listener follows.
func (l *Listener) Scope() Scope {
	return l.scope
}

// Start subscribes, loads the scope and then applies events in arrival order
// on its own goroutine. Calling Start again is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}

	var filter datastore.Filter
	if !l.scope.Collection() {
		filter = datastore.Filter{matches.ColumnID: l.scope.MatchID}
	}
	// Subscribe before the initial load so no change in between is missed.
	sub, err := l.store.SubscribeChanges(ctx, datastore.TableMatches, filter)
	if err != nil {
		l.mu.Unlock()
		err = fmt.Errorf("subscribe %s: %w", l.scope, err)
		l.recordFailure(err)
		l.report(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.started = true
	l.sub = sub
	l.cancel = cancel
	l.registered = true
	l.registry.Register(l.scope)
	l.setConnected(true)
	l.mu.Unlock()

	logging.Info(l.logger, "change feed started", logging.FieldScope, l.scope.String())

	if err := l.reconcile(ctx); err != nil {
		l.report(err)
	}

	go l.loop(runCtx, sub)
	return nil
}

// Stop unsubscribes and unregisters the scope. It is safe to call more than
// once and waits for the event loop to exit or ctx to end.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	started := l.started
	sub, cancel := l.sub, l.cancel
	l.unregisterLocked()
	l.mu.Unlock()

	l.setConnected(false)
	if !started {
		return nil
	}
	cancel()
	if err := sub.Close(); err != nil {
		logging.WarnErr(l.logger, "change feed unsubscribe failed", err, logging.FieldScope, l.scope.String())
	}

	select {
	case <-l.done:
		logging.Info(l.logger, "change feed stopped", logging.FieldScope, l.scope.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the listener's health.
func (l *Listener) Status() Status {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

func (l *Listener) loop(ctx context.Context, sub datastore.Subscription) {
	defer close(l.done)
	for ev := range sub.Events() {
		l.handle(ctx, ev)
	}

	l.mu.Lock()
	stopped := l.stopped
	if !stopped {
		l.unregisterLocked()
	}
	l.mu.Unlock()
	if stopped {
		return
	}

	err := sub.Err()
	if err == nil || !errors.Is(err, ErrTransportInterrupted) {
		err = fmt.Errorf("%w: %v", ErrTransportInterrupted, err)
	}
	err = fmt.Errorf("%s: %w", l.scope, err)

	l.statusMu.Lock()
	l.status.Connected = false
	l.status.Interrupted = true
	l.status.LastError = err.Error()
	l.statusMu.Unlock()

	l.metrics.RecordFeedInterrupted(l.scope.kind())
	logging.Error(l.logger, "change feed interrupted", err, logging.FieldScope, l.scope.String())
	l.report(err)
}

// handle applies exactly one reconciliation for ev.
func (l *Listener) handle(ctx context.Context, ev datastore.Event) {
	if ev.Table != datastore.TableMatches {
		return
	}
	l.statusMu.Lock()
	l.status.Events++
	l.status.LastEvent = l.now()
	l.statusMu.Unlock()

	if !l.scope.Collection() && !ev.Bare() {
		if id := ev.New.String(matches.ColumnID); id != "" && id != l.scope.MatchID {
			return
		}
	}

	if ev.Operation != datastore.OpDelete && !ev.Bare() {
		m, err := matches.FromRecord(ev.New)
		if err == nil {
			l.metrics.RecordFeedEvent(l.scope.kind(), "payload")
			if l.isStopped() {
				return
			}
			l.cache.Replace(m)
			return
		}
		logging.Info(l.logger, "incomplete change payload, re-fetching",
			logging.FieldScope, l.scope.String(), logging.FieldError, err)
	}

	l.metrics.RecordFeedEvent(l.scope.kind(), "refetch")
	if err := l.reconcile(ctx); err != nil {
		l.report(err)
	}
}

// reconcile re-fetches the whole scope and replaces the cached state.
func (l *Listener) reconcile(ctx context.Context) error {
	if l.scope.Collection() {
		return l.reconcileCollection(ctx)
	}

	rec, err := l.store.FetchOne(ctx, datastore.TableMatches, l.scope.MatchID)
	if l.isStopped() {
		return nil
	}
	if errors.Is(err, datastore.ErrNotFound) {
		l.cache.MarkAbsent(l.scope.MatchID)
		l.recordSuccess()
		return nil
	}
	if err != nil {
		err = fmt.Errorf("fetch %s: %w", l.scope, err)
		l.recordFailure(err)
		return err
	}
	m, err := matches.FromRecord(rec)
	if err != nil {
		err = fmt.Errorf("decode %s: %w", l.scope, err)
		l.recordFailure(err)
		return err
	}
	l.cache.Replace(m)
	l.recordSuccess()
	return nil
}

func (l *Listener) reconcileCollection(ctx context.Context) error {
	recs, err := l.store.FetchMany(ctx, datastore.TableMatches, datastore.Query{
		Order: []datastore.Order{{Column: matches.ColumnStartTime}},
	})
	if l.isStopped() {
		return nil
	}
	if err != nil {
		err = fmt.Errorf("fetch %s: %w", l.scope, err)
		l.recordFailure(err)
		return err
	}

	list := make([]matches.Match, 0, len(recs))
	for _, rec := range recs {
		m, err := matches.FromRecord(rec)
		if err != nil {
			logging.WarnErr(l.logger, "skipping incomplete match", err, logging.FieldMatchID, rec.String(matches.ColumnID))
			continue
		}
		list = append(list, m)
	}
	l.cache.ReplaceAll(list)
	l.recordSuccess()
	logging.Info(l.logger, "collection reloaded", logging.FieldCount, len(list))
	return nil
}

func (l *Listener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Listener) unregisterLocked() {
	if l.registered {
		l.registered = false
		l.registry.Unregister(l.scope)
	}
}

func (l *Listener) report(err error) {
	if l.onError != nil && err != nil {
		l.onError(err)
	}
}

func (l *Listener) setConnected(connected bool) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.status.Connected = connected
}

func (l *Listener) recordSuccess() {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.status.ConsecutiveFailures = 0
	l.status.LastError = ""
}

func (l *Listener) recordFailure(err error) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.status.ConsecutiveFailures++
	if err != nil {
		l.status.LastError = err.Error()
	}
}
