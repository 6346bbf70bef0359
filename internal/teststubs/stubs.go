// Package teststubs provides hand-written doubles for the data store and
// authentication collaborators.
package teststubs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
)

// Write is one Update or Insert seen by StubStore.
type Write struct {
	Table  string
	ID     string
	Fields datastore.Record
}

// StubStore is a test double for datastore.Store. Calls are forwarded to
// Inner unless the matching error field is set. With no Inner, reads report
// ErrNotFound and writes succeed.
type StubStore struct {
	Inner datastore.Store

	FetchOneErr  error
	FetchManyErr error
	UpdateErr    error
	InsertErr    error
	SubscribeErr error

	// Subscription is returned by SubscribeChanges when set.
	Subscription *StubSubscription
	// BeforeUpdate runs before an Update is forwarded.
	BeforeUpdate func(table, id string, fields datastore.Record)

	FetchOneCalls  atomic.Int32
	FetchManyCalls atomic.Int32
	UpdateCalls    atomic.Int32
	InsertCalls    atomic.Int32
	SubscribeCalls atomic.Int32

	mu     sync.Mutex
	writes []Write
}

// Calls returns the total number of data store calls.
func (s *StubStore) Calls() int {
	return int(s.FetchOneCalls.Load() + s.FetchManyCalls.Load() + s.UpdateCalls.Load() +
		s.InsertCalls.Load() + s.SubscribeCalls.Load())
}

// Writes returns the recorded writes in call order.
func (s *StubStore) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *StubStore) FetchOne(ctx context.Context, table, id string) (datastore.Record, error) {
	s.FetchOneCalls.Add(1)
	if s.FetchOneErr != nil {
		return nil, s.FetchOneErr
	}
	if s.Inner == nil {
		return nil, datastore.ErrNotFound
	}
	return s.Inner.FetchOne(ctx, table, id)
}

func (s *StubStore) FetchMany(ctx context.Context, table string, q datastore.Query) ([]datastore.Record, error) {
	s.FetchManyCalls.Add(1)
	if s.FetchManyErr != nil {
		return nil, s.FetchManyErr
	}
	if s.Inner == nil {
		return nil, nil
	}
	return s.Inner.FetchMany(ctx, table, q)
}

func (s *StubStore) Update(ctx context.Context, table, id string, fields datastore.Record) error {
	s.UpdateCalls.Add(1)
	s.record(Write{Table: table, ID: id, Fields: fields.Clone()})
	if s.BeforeUpdate != nil {
		s.BeforeUpdate(table, id, fields)
	}
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if s.Inner == nil {
		return nil
	}
	return s.Inner.Update(ctx, table, id, fields)
}

func (s *StubStore) Insert(ctx context.Context, table string, fields datastore.Record) (datastore.Record, error) {
	s.InsertCalls.Add(1)
	s.record(Write{Table: table, Fields: fields.Clone()})
	if s.InsertErr != nil {
		return nil, s.InsertErr
	}
	if s.Inner == nil {
		rec := fields.Clone()
		if rec.String(datastore.ColumnID) == "" {
			rec[datastore.ColumnID] = "stub-id"
		}
		return rec, nil
	}
	return s.Inner.Insert(ctx, table, fields)
}

func (s *StubStore) SubscribeChanges(ctx context.Context, table string, filter datastore.Filter) (datastore.Subscription, error) {
	s.SubscribeCalls.Add(1)
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	if s.Subscription != nil {
		return s.Subscription, nil
	}
	if s.Inner == nil {
		return NewStubSubscription(16), nil
	}
	return s.Inner.SubscribeChanges(ctx, table, filter)
}

func (s *StubStore) record(w Write) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, w)
}

// StubSubscription is a subscription driven by the test.
type StubSubscription struct {
	ch     chan datastore.Event
	once   sync.Once
	mu     sync.Mutex
	err    error
	closed atomic.Bool
}

// NewStubSubscription returns an open subscription with the given buffer.
func NewStubSubscription(buffer int) *StubSubscription {
	return &StubSubscription{ch: make(chan datastore.Event, buffer)}
}

// Send delivers ev to the consumer.
func (s *StubSubscription) Send(ev datastore.Event) {
	s.ch <- ev
}

// End closes the event stream with err, as a transport failure would.
func (s *StubSubscription) End(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

// Closed reports whether the consumer unsubscribed.
func (s *StubSubscription) Closed() bool {
	return s.closed.Load()
}

func (s *StubSubscription) Events() <-chan datastore.Event {
	return s.ch
}

func (s *StubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StubSubscription) Close() error {
	s.closed.Store(true)
	s.once.Do(func() { close(s.ch) })
	return nil
}

// StubProfiles is a fixed profile source.
type StubProfiles struct {
	Value *profiles.Profile
}

// Profile returns the configured profile.
func (s StubProfiles) Profile() *profiles.Profile {
	return s.Value
}

// StubProfileLoader loads profiles from a map.
type StubProfileLoader struct {
	Profiles map[string]profiles.Profile
	Err      error
}

func (s StubProfileLoader) LoadProfile(_ context.Context, id string) (*profiles.Profile, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.Profiles[id]
	if !ok {
		return nil, datastore.ErrNotFound
	}
	return &p, nil
}

// SignedIn returns a static session for id.
func SignedIn(id string) *auth.StaticSession {
	return auth.NewStaticSession(&auth.Identity{ID: id})
}
