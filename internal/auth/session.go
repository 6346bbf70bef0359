package auth

import (
	"context"
	"sync"
)

// StaticSession is an authentication service whose identity is set
// explicitly. The server builds one per request from the verified token; the
// CLI builds one from its configured token.
type StaticSession struct {
	mu        sync.Mutex
	identity  *Identity
	listeners map[uint64]func(*Identity)
	nextID    uint64
}

// NewStaticSession returns a session signed in as identity (nil = signed out).
func NewStaticSession(identity *Identity) *StaticSession {
	return &StaticSession{
		identity:  copyIdentity(identity),
		listeners: make(map[uint64]func(*Identity)),
	}
}

// CurrentIdentity returns the signed-in identity or nil.
func (s *StaticSession) CurrentIdentity(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.identity), nil
}

// OnIdentityChange registers fn for sign-in and sign-out events.
func (s *StaticSession) OnIdentityChange(fn func(*Identity)) func() {
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

// SignIn replaces the identity and notifies listeners.
func (s *StaticSession) SignIn(identity Identity) {
	s.set(&identity)
}

// SignOut clears the identity and notifies listeners.
func (s *StaticSession) SignOut() {
	s.set(nil)
}

func (s *StaticSession) set(identity *Identity) {
	s.mu.Lock()
	s.identity = copyIdentity(identity)
	fns := make([]func(*Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(identity))
	}
}

func copyIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	cp := *identity
	return &cp
}
