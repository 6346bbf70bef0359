// Package scoreboard is the server-side use case layer: one shared cache kept
// live by a collection feed, with per-request sessions deciding what each
// caller may see and do.
package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/cache"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/feed"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
	"github.com/preston-bernstein/livescore-service/internal/mutation"
	"github.com/preston-bernstein/livescore-service/internal/session"
	"github.com/preston-bernstein/livescore-service/internal/view"
)

var stopListener = (*feed.Listener).Stop

// Config tunes a Service. Every field is optional.
type Config struct {
	Logger        *slog.Logger
	Recorder      *metrics.Recorder
	Location      *time.Location
	ReconcileWait time.Duration
	// Profiles loads caller profiles; the user_profiles table by default.
	Profiles session.ProfileLoader
}

// Service serves projections and mutations for many callers over one cache.
type Service struct {
	store    datastore.Store
	cache    *cache.Cache
	registry *feed.Registry
	profiles session.ProfileLoader
	logger   *slog.Logger
	metrics  *metrics.Recorder
	location *time.Location
	wait     time.Duration

	mu       sync.Mutex
	listener *feed.Listener
	stopped  bool
}

// NewService constructs a Service over store. Call Start to begin following
// the collection.
func NewService(store datastore.Store, cfg Config) *Service {
	loader := cfg.Profiles
	if loader == nil {
		loader = session.DataStoreProfiles{Store: store}
	}
	s := &Service{
		store:    store,
		cache:    cache.New(),
		registry: feed.NewRegistry(),
		profiles: loader,
		logger:   cfg.Logger,
		metrics:  cfg.Recorder,
		location: cfg.Location,
		wait:     cfg.ReconcileWait,
	}
	s.listener = s.newListener()
	return s
}

func (s *Service) newListener() *feed.Listener {
	return feed.New(s.store, s.cache, feed.Scope{}, feed.Options{
		Logger:   s.logger,
		Recorder: s.metrics,
		Registry: s.registry,
		OnError: func(err error) {
			logging.WarnErr(s.logger, "collection feed error", err)
		},
	})
}

// Start subscribes to the collection and loads it.
func (s *Service) Start(ctx context.Context) error {
	return s.current().Start(ctx)
}

// Stop ends the collection feed. Resume does nothing afterwards.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	l := s.listener
	s.mu.Unlock()
	return l.Stop(ctx)
}

// Resume replaces a collection feed that is down with a fresh one. It
// reports whether a restart was attempted.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.stopped || s.listener.Status().IsReady() {
		s.mu.Unlock()
		return false, nil
	}
	stale := s.listener
	s.listener = s.newListener()
	next := s.listener
	s.mu.Unlock()

	if err := stopListener(stale, ctx); err != nil {
		logging.Error(s.logger, "failed to stop interrupted collection feed", err, logging.FieldScope, feed.Scope{}.String())
	}
	if err := next.Start(ctx); err != nil {
		return true, err
	}
	logging.Info(s.logger, "collection feed resumed", logging.FieldScope, feed.Scope{}.String())
	return true, nil
}

// Status reports the health of the collection feed.
func (s *Service) Status() feed.Status {
	return s.current().Status()
}

// Ready reports whether the collection is loaded and followed.
func (s *Service) Ready() bool {
	return s.current().Status().IsReady() && s.cache.CollectionLoaded()
}

func (s *Service) current() *feed.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// Cache exposes the shared cache to transports that stream it.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Profile resolves the caller's permission profile. Anonymous callers and
// identities without a profile row get nil, which reads as a viewer.
func (s *Service) Profile(ctx context.Context, identity *auth.Identity) (*profiles.Profile, error) {
	if identity == nil {
		return nil, nil
	}
	store := session.NewStore(auth.NewStaticSession(identity), s.profiles, s.logger)
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	snap := store.Snapshot()
	if snap.Err != nil {
		if errors.Is(snap.Err, session.ErrProfileNotFound) {
			return nil, nil
		}
		return nil, snap.Err
	}
	return snap.Profile, nil
}

// Matches returns the collection as seen by identity.
func (s *Service) Matches(ctx context.Context, identity *auth.Identity) (view.ListView, error) {
	profile, err := s.Profile(ctx, identity)
	if err != nil {
		return view.ListView{}, err
	}
	return view.ProjectList(s.cache.List(), s.cache.CollectionLoaded(), profile, view.Options{Location: s.location}), nil
}

// Match returns one match as seen by identity. Ids the cache has never seen
// are resolved against the store.
func (s *Service) Match(ctx context.Context, identity *auth.Identity, id string) (view.MatchView, error) {
	profile, err := s.Profile(ctx, identity)
	if err != nil {
		return view.MatchView{}, err
	}
	entry, err := s.resolve(ctx, id)
	if err != nil {
		return view.MatchView{}, err
	}
	return s.projectEntry(id, entry, profile), nil
}

// IncrementScore adds a goal on behalf of identity and returns the
// reconciled projection.
func (s *Service) IncrementScore(ctx context.Context, identity *auth.Identity, id string, side matches.Side) (view.MatchView, error) {
	return s.mutate(ctx, identity, id, func(coord *mutation.Coordinator) error {
		return coord.IncrementScore(ctx, id, side)
	})
}

// SetStatus changes the status of a match on behalf of identity.
func (s *Service) SetStatus(ctx context.Context, identity *auth.Identity, id string, status matches.Status) (view.MatchView, error) {
	return s.mutate(ctx, identity, id, func(coord *mutation.Coordinator) error {
		return coord.SetStatus(ctx, id, status)
	})
}

// CreateMatch schedules a match on behalf of identity.
func (s *Service) CreateMatch(ctx context.Context, identity *auth.Identity, nm matches.NewMatch) (view.MatchView, error) {
	profile, err := s.Profile(ctx, identity)
	if err != nil {
		return view.MatchView{}, err
	}
	m, err := s.coordinator(profile).CreateMatch(ctx, nm)
	if err != nil {
		return view.MatchView{}, err
	}
	return s.project(m.ID, profile), nil
}

func (s *Service) mutate(ctx context.Context, identity *auth.Identity, id string, fn func(*mutation.Coordinator) error) (view.MatchView, error) {
	profile, err := s.Profile(ctx, identity)
	if err != nil {
		return view.MatchView{}, err
	}
	entry, err := s.resolve(ctx, id)
	if err != nil {
		return view.MatchView{}, err
	}
	if entry.State == cache.StateAbsent {
		return s.projectEntry(id, entry, profile), fmt.Errorf("match %s: %w", id, datastore.ErrNotFound)
	}
	if err := fn(s.coordinator(profile)); err != nil {
		return view.MatchView{}, err
	}
	return s.project(id, profile), nil
}

// resolve fetches id when the cache holds no state for it yet. Missing ids
// are reported as absent without being written to the shared cache, so
// lookups of arbitrary ids cannot grow it.
func (s *Service) resolve(ctx context.Context, id string) (cache.Entry, error) {
	if entry := s.cache.Lookup(id); entry.State != cache.StateLoading {
		return entry, nil
	}
	rec, err := s.store.FetchOne(ctx, datastore.TableMatches, id)
	if errors.Is(err, datastore.ErrNotFound) {
		return cache.Entry{State: cache.StateAbsent}, nil
	}
	if err != nil {
		return cache.Entry{}, fmt.Errorf("fetch match %s: %w", id, err)
	}
	m, err := matches.FromRecord(rec)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("decode match %s: %w", id, err)
	}
	s.cache.Replace(m)
	return s.cache.Lookup(id), nil
}

func (s *Service) coordinator(profile *profiles.Profile) *mutation.Coordinator {
	return mutation.New(s.store, s.cache, fixedProfile{profile}, mutation.Options{
		Registry:      s.registry,
		ReconcileWait: s.wait,
		Logger:        s.logger,
		Recorder:      s.metrics,
		OnError: func(err error) {
			logging.WarnErr(s.logger, "mutation reconcile failed", err)
		},
	})
}

func (s *Service) project(id string, profile *profiles.Profile) view.MatchView {
	return s.projectEntry(id, s.cache.Lookup(id), profile)
}

func (s *Service) projectEntry(id string, entry cache.Entry, profile *profiles.Profile) view.MatchView {
	return view.Project(id, entry, profile, view.Options{Location: s.location})
}

type fixedProfile struct {
	profile *profiles.Profile
}

func (f fixedProfile) Profile() *profiles.Profile {
	return f.profile
}
