package datastore

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

type flakeyStore struct {
	failures int
	err      error
	calls    int
	writes   int
}

func (f *flakeyStore) FetchOne(ctx context.Context, table, id string) (Record, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return Record{"id": id}, nil
}

func (f *flakeyStore) FetchMany(ctx context.Context, table string, q Query) ([]Record, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []Record{{"id": "a"}}, nil
}

func (f *flakeyStore) Update(ctx context.Context, table, id string, fields Record) error {
	f.writes++
	return f.err
}

func (f *flakeyStore) Insert(ctx context.Context, table string, fields Record) (Record, error) {
	f.writes++
	return nil, f.err
}

func (f *flakeyStore) SubscribeChanges(ctx context.Context, table string, filter Filter) (Subscription, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return NewFeed(1, nil), nil
}

func TestRetryingStoreRetriesAndSucceeds(t *testing.T) {
	fs := &flakeyStore{failures: 2, err: ErrUnavailable}
	rec := metrics.NewRecorder()
	rs := NewRetryingStore(fs, slog.Default(), rec, "flakey", 3, time.Millisecond)

	got, err := rs.FetchOne(context.Background(), TableMatches, "m1")
	if err != nil {
		t.Fatalf("expected success, got error %v", err)
	}
	if got.String("id") != "m1" {
		t.Fatalf("unexpected record %v", got)
	}
	if fs.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fs.calls)
	}
	if rec.DataStoreCalls("flakey") != 3 || rec.DataStoreErrors("flakey") != 2 {
		t.Fatalf("unexpected metrics %+v", rec.Snapshot("flakey"))
	}
}

func TestRetryingStoreStopsAfterMaxAttempts(t *testing.T) {
	fs := &flakeyStore{failures: 5, err: ErrUnavailable}
	rs := NewRetryingStore(fs, nil, metrics.NewRecorder(), "flakey", 2, time.Millisecond)

	_, err := rs.FetchMany(context.Background(), TableMatches, Query{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after retries, got %v", err)
	}
	if fs.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", fs.calls)
	}
}

func TestRetryingStoreDoesNotRetryNotFound(t *testing.T) {
	fs := &flakeyStore{failures: 5, err: ErrNotFound}
	rs := NewRetryingStore(fs, nil, nil, "flakey", 3, time.Millisecond)

	_, err := rs.FetchOne(context.Background(), TableMatches, "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", fs.calls)
	}
}

func TestRetryingStoreNeverRetriesWrites(t *testing.T) {
	fs := &flakeyStore{err: ErrUnavailable}
	rec := metrics.NewRecorder()
	rs := NewRetryingStore(fs, nil, rec, "flakey", 3, time.Millisecond)

	if err := rs.Update(context.Background(), TableMatches, "m1", Record{"home_score": 1}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected update error, got %v", err)
	}
	if _, err := rs.Insert(context.Background(), TableMatches, Record{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if fs.writes != 2 {
		t.Fatalf("expected one attempt per write, got %d", fs.writes)
	}
	if rec.DataStoreErrors("flakey") != 2 {
		t.Fatalf("expected write errors recorded")
	}
}

func TestRetryingStoreRespectsContextCancel(t *testing.T) {
	fs := &flakeyStore{failures: 5, err: ErrUnavailable}
	rs := NewRetryingStore(fs, nil, nil, "flakey", 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rs.SubscribeChanges(ctx, TableMatches, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", fs.calls)
	}
}

func TestRetryingStoreUsesCustomBackoff(t *testing.T) {
	fs := &flakeyStore{failures: 1, err: ErrUnavailable}
	rs := NewRetryingStore(fs, nil, nil, "flakey", 2, time.Hour).(*retryingStore)

	calls := 0
	rs.newBackOff = func() backoff.BackOff {
		calls++
		return &backoff.ZeroBackOff{}
	}

	if _, err := rs.FetchOne(context.Background(), TableMatches, "m1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected custom backoff to be used")
	}
	if rs.Unwrap() != Store(fs) {
		t.Fatalf("expected Unwrap to return inner store")
	}
}
