// Package session tracks the signed-in identity and its permission profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

// Authenticator is the authentication service.
type Authenticator interface {
	CurrentIdentity(ctx context.Context) (*auth.Identity, error)
	OnIdentityChange(fn func(*auth.Identity)) (unsubscribe func())
}

// ProfileLoader loads the permission profile of an identity.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, identityID string) (*profiles.Profile, error)
}

// Snapshot is the session state at one point in time. Profile is nil while
// signed out, while Loading, or when the load failed (Err set).
type Snapshot struct {
	Identity *auth.Identity
	Profile  *profiles.Profile
	Loading  bool
	Err      error
}

// Store owns the identity and profile of one client. Create it with NewStore
// and call Init once.
type Store struct {
	auth   Authenticator
	loader ProfileLoader
	logger *slog.Logger

	mu          sync.Mutex
	snap        Snapshot
	generation  uint64
	unsubscribe func()
	initialized bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	listeners   map[uint64]func(Snapshot)
	nextID      uint64
}

// NewStore constructs a session store.
func NewStore(authenticator Authenticator, loader ProfileLoader, logger *slog.Logger) *Store {
	return &Store{
		auth:      authenticator,
		loader:    loader,
		logger:    logger,
		listeners: make(map[uint64]func(Snapshot)),
	}
}

// Init reads the current identity, loads its profile and starts following
// identity changes.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	unsubscribe := s.auth.OnIdentityChange(func(identity *auth.Identity) {
		s.mu.Lock()
		loadCtx := s.ctx
		s.mu.Unlock()
		s.load(loadCtx, identity)
	})
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	identity, err := s.auth.CurrentIdentity(ctx)
	if err != nil {
		s.mu.Lock()
		s.snap = Snapshot{Err: fmt.Errorf("read identity: %w", err)}
		snap := copySnapshot(s.snap)
		s.mu.Unlock()
		s.notify(snap)
		return snap.Err
	}

	s.load(ctx, identity)
	return nil
}

// Close stops following identity changes. It is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	unsubscribe := s.unsubscribe
	cancel := s.cancel
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the current session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.snap)
}

// Profile returns the loaded profile or nil.
func (s *Store) Profile() *profiles.Profile {
	return s.Snapshot().Profile
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// load fetches the profile for identity. A load superseded by a newer
// identity change is discarded.
func (s *Store) load(ctx context.Context, identity *auth.Identity) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	if identity == nil {
		s.snap = Snapshot{}
	} else {
		s.snap = Snapshot{Identity: identity, Loading: true}
	}
	snap := copySnapshot(s.snap)
	s.mu.Unlock()
	s.notify(snap)

	if identity == nil {
		return
	}

	profile, err := s.loader.LoadProfile(ctx, identity.ID)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		logging.Info(s.logger, "discarding stale profile load", logging.FieldUserID, identity.ID)
		return
	}
	if err != nil {
		s.snap = Snapshot{Identity: identity, Err: err}
	} else {
		s.snap = Snapshot{Identity: identity, Profile: profile}
	}
	snap = copySnapshot(s.snap)
	s.mu.Unlock()

	if err != nil {
		logging.WarnErr(s.logger, "profile load failed", err, logging.FieldUserID, identity.ID)
	}
	s.notify(snap)
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func copySnapshot(snap Snapshot) Snapshot {
	if snap.Identity != nil {
		id := *snap.Identity
		snap.Identity = &id
	}
	if snap.Profile != nil {
		p := *snap.Profile
		snap.Profile = &p
	}
	return snap
}

// ErrProfileNotFound is returned when an identity has no profile row.
var ErrProfileNotFound = errors.New("profile not found")

// DataStoreProfiles loads profiles from the user_profiles table.
type DataStoreProfiles struct {
	Store datastore.Store
}

func (d DataStoreProfiles) LoadProfile(ctx context.Context, identityID string) (*profiles.Profile, error) {
	rec, err := d.Store.FetchOne(ctx, datastore.TableProfiles, identityID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, identityID)
		}
		return nil, fmt.Errorf("load profile %s: %w", identityID, err)
	}
	profile, err := profiles.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", identityID, err)
	}
	return &profile, nil
}
