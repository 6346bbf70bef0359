package mutation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/cache"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/feed"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
	"github.com/preston-bernstein/livescore-service/internal/teststubs"
	"github.com/preston-bernstein/livescore-service/internal/testutil"
)

// scored returns the T1 vs T2 sample match with the given score.
func scored(home, away int) matches.Match {
	m := testutil.SampleMatch("m1", "t1", "t2")
	m.HomeScore = home
	m.AwayScore = away
	return m
}

// setup seeds a memory store with m, loads it into a cache and wraps the store
// in a StubStore so calls can be counted.
func setup(t *testing.T, m matches.Match) (*teststubs.StubStore, *cache.Cache) {
	t.Helper()
	store := testutil.SeedStore(t, []matches.Match{m})
	rec, err := store.FetchOne(context.Background(), datastore.TableMatches, m.ID)
	if err != nil {
		t.Fatalf("fetch seeded match: %v", err)
	}
	loaded, err := matches.FromRecord(rec)
	if err != nil {
		t.Fatalf("decode seeded match: %v", err)
	}
	c := cache.New()
	c.Replace(loaded)
	return &teststubs.StubStore{Inner: store}, c
}

func profileOf(p *profiles.Profile) teststubs.StubProfiles {
	return teststubs.StubProfiles{Value: p}
}

func TestIncrementScoreWithoutEditRightsMakesNoCalls(t *testing.T) {
	cases := []struct {
		name    string
		profile *profiles.Profile
		matchID string
	}{
		{name: "signed out", profile: nil, matchID: "m1"},
		{name: "viewer", profile: testutil.Viewer("u1"), matchID: "m1"},
		{name: "scorekeeper of other team", profile: testutil.Scorekeeper("u2", "t3"), matchID: "m1"},
		{name: "match not loaded", profile: testutil.Admin("u3"), matchID: "missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &teststubs.StubStore{}
			c := cache.New()
			c.Replace(scored(2, 1))
			before := c.Lookup("m1")
			recorder := metrics.NewRecorder()

			coord := New(store, c, profileOf(tc.profile), Options{Recorder: recorder})
			err := coord.IncrementScore(context.Background(), tc.matchID, matches.SideHome)

			if !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("expected ErrPermissionDenied, got %v", err)
			}
			if store.Calls() != 0 {
				t.Fatalf("expected zero data store calls, got %d", store.Calls())
			}
			if after := c.Lookup("m1"); !reflect.DeepEqual(before, after) {
				t.Fatalf("cache changed: before %+v after %+v", before, after)
			}
			if recorder.Mutations(OpIncrementScore, "denied") != 1 {
				t.Fatalf("expected denied mutation to be recorded")
			}
		})
	}
}

func TestIncrementScoreRejectsInvalidSide(t *testing.T) {
	store := &teststubs.StubStore{}
	c := cache.New()
	c.Replace(scored(0, 0))
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})

	err := coord.IncrementScore(context.Background(), "m1", matches.Side("middle"))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if store.Calls() != 0 {
		t.Fatalf("expected zero calls, got %d", store.Calls())
	}
}

func TestIncrementScoreReconcilesByRefetch(t *testing.T) {
	store, c := setup(t, scored(2, 1))
	recorder := metrics.NewRecorder()
	coord := New(store, c, profileOf(testutil.Scorekeeper("u1", "t1")), Options{Recorder: recorder})

	if err := coord.IncrementScore(context.Background(), "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}

	m, ok := c.Get("m1")
	if !ok || m.HomeScore != 3 || m.AwayScore != 1 {
		t.Fatalf("expected 3-1 after reconcile, got %+v (present %v)", m, ok)
	}
	writes := store.Writes()
	if len(writes) != 1 {
		t.Fatalf("expected one write, got %d", len(writes))
	}
	if !reflect.DeepEqual(writes[0].Fields, datastore.Record{"home_score": 3}) {
		t.Fatalf("expected single-field update, got %+v", writes[0].Fields)
	}
	if store.FetchOneCalls.Load() != 1 {
		t.Fatalf("expected one re-fetch, got %d", store.FetchOneCalls.Load())
	}
	if recorder.Mutations(OpIncrementScore, "ok") != 1 {
		t.Fatalf("expected ok mutation to be recorded")
	}
	if coord.Pending() != 0 {
		t.Fatalf("expected no pending mutations, got %d", coord.Pending())
	}
}

func TestIncrementScoreWaitsForFeedEcho(t *testing.T) {
	ctx := context.Background()
	store, c := setup(t, scored(2, 1))
	registry := feed.NewRegistry()
	listener := feed.New(store, c, feed.Scope{MatchID: "m1"}, feed.Options{Registry: registry})
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer listener.Stop(ctx)
	fetchesAfterStart := store.FetchOneCalls.Load()

	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{Registry: registry})
	if err := coord.IncrementScore(ctx, "m1", matches.SideAway); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}

	m, _ := c.Get("m1")
	if m.HomeScore != 2 || m.AwayScore != 2 {
		t.Fatalf("expected 2-2 once IncrementScore returns, got %d-%d", m.HomeScore, m.AwayScore)
	}
	if got := store.FetchOneCalls.Load(); got != fetchesAfterStart {
		t.Fatalf("expected the feed echo to reconcile without a re-fetch, fetches %d -> %d", fetchesAfterStart, got)
	}
}

func TestEchoAndRefetchApplyOneIncrement(t *testing.T) {
	ctx := context.Background()
	store, c := setup(t, scored(2, 1))
	registry := feed.NewRegistry()
	registry.Register(feed.Scope{MatchID: "m1"})

	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{
		Registry:      registry,
		ReconcileWait: 20 * time.Millisecond,
	})
	if err := coord.IncrementScore(ctx, "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}
	if store.FetchOneCalls.Load() != 1 {
		t.Fatalf("expected fallback re-fetch after timeout, got %d fetches", store.FetchOneCalls.Load())
	}

	// The late echo carries the same row and must not count twice.
	rec, err := store.Inner.FetchOne(ctx, datastore.TableMatches, "m1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	echo, err := matches.FromRecord(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c.Replace(echo)

	m, _ := c.Get("m1")
	if m.HomeScore != 3 || m.AwayScore != 1 {
		t.Fatalf("expected exactly one increment, got %d-%d", m.HomeScore, m.AwayScore)
	}
}

func TestReconcileSkippedWhenFeedTornDownDuringWrite(t *testing.T) {
	store, c := setup(t, scored(2, 1))
	registry := feed.NewRegistry()
	scope := feed.Scope{MatchID: "m1"}
	registry.Register(scope)
	store.BeforeUpdate = func(string, string, datastore.Record) {
		registry.Unregister(scope)
	}
	before := c.Lookup("m1")

	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{Registry: registry})
	if err := coord.IncrementScore(context.Background(), "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}

	if store.FetchOneCalls.Load() != 0 {
		t.Fatalf("expected no re-fetch after teardown, got %d", store.FetchOneCalls.Load())
	}
	if after := c.Lookup("m1"); !reflect.DeepEqual(before, after) {
		t.Fatalf("expected cache untouched, before %+v after %+v", before, after)
	}
}

func TestIncrementUsesCachedValue(t *testing.T) {
	store, c := setup(t, scored(2, 1))
	// Another editor already moved the stored score on; the local cache has
	// not caught up, so this write overwrites theirs.
	if err := store.Inner.Update(context.Background(), datastore.TableMatches, "m1", datastore.Record{"home_score": 5}); err != nil {
		t.Fatalf("update: %v", err)
	}

	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})
	if err := coord.IncrementScore(context.Background(), "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}

	writes := store.Writes()
	if len(writes) != 1 || writes[0].Fields["home_score"] != 3 {
		t.Fatalf("expected write of cached score + 1, got %+v", writes)
	}
}

func TestSetStatusAdminGoesLive(t *testing.T) {
	store, c := setup(t, scored(1, 1))
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})

	if err := coord.SetStatus(context.Background(), "m1", matches.StatusLive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	m, _ := c.Get("m1")
	if m.Status != matches.StatusLive {
		t.Fatalf("expected LIVE, got %s", m.Status)
	}
	if m.HomeScore != 1 || m.AwayScore != 1 {
		t.Fatalf("expected scores unchanged, got %d-%d", m.HomeScore, m.AwayScore)
	}
	writes := store.Writes()
	if len(writes) != 1 || !reflect.DeepEqual(writes[0].Fields, datastore.Record{"status": "LIVE"}) {
		t.Fatalf("expected single status write, got %+v", writes)
	}
}

func TestSetStatusAllowsAnyTransition(t *testing.T) {
	m := scored(0, 0)
	m.Status = matches.StatusFinished
	store, c := setup(t, m)
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})

	if err := coord.SetStatus(context.Background(), "m1", matches.StatusScheduled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got, _ := c.Get("m1"); got.Status != matches.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.Status)
	}
}

func TestSetStatusScorekeeperOfOtherTeamDenied(t *testing.T) {
	store, c := setup(t, scored(0, 0))
	before := c.Lookup("m1")
	coord := New(store, c, profileOf(testutil.Scorekeeper("u1", "t3")), Options{})

	err := coord.SetStatus(context.Background(), "m1", matches.StatusLive)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if store.Calls() != 0 {
		t.Fatalf("expected zero calls, got %d", store.Calls())
	}
	if after := c.Lookup("m1"); !reflect.DeepEqual(before, after) {
		t.Fatalf("cache changed: before %+v after %+v", before, after)
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	store, c := setup(t, scored(0, 0))
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})

	err := coord.SetStatus(context.Background(), "m1", matches.Status("PAUSED"))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if store.Calls() != 0 {
		t.Fatalf("expected zero calls, got %d", store.Calls())
	}
}

func TestWriteFailureLeavesCacheUntouched(t *testing.T) {
	store, c := setup(t, scored(2, 1))
	store.UpdateErr = errors.New("connection reset")
	before := c.Lookup("m1")
	recorder := metrics.NewRecorder()
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{Recorder: recorder})

	err := coord.IncrementScore(context.Background(), "m1", matches.SideHome)
	if !errors.Is(err, ErrRemoteWriteFailed) {
		t.Fatalf("expected ErrRemoteWriteFailed, got %v", err)
	}
	rwe, ok := AsRemoteWriteError(err)
	if !ok || rwe.Op != OpIncrementScore || rwe.MatchID != "m1" {
		t.Fatalf("unexpected remote write error %+v", rwe)
	}
	if rwe.Err.Error() != "connection reset" {
		t.Fatalf("expected underlying message, got %v", rwe.Err)
	}
	if store.UpdateCalls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", store.UpdateCalls.Load())
	}
	if after := c.Lookup("m1"); !reflect.DeepEqual(before, after) {
		t.Fatalf("cache changed after failed write")
	}
	if recorder.Mutations(OpIncrementScore, "failed") != 1 {
		t.Fatalf("expected failed mutation to be recorded")
	}
}

func TestReconcileFailureIsReportedNotReturned(t *testing.T) {
	store, c := setup(t, scored(2, 1))
	store.FetchOneErr = datastore.ErrUnavailable
	var (
		mu       sync.Mutex
		reported []error
	)
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		},
	})

	if err := coord.IncrementScore(context.Background(), "m1", matches.SideHome); err != nil {
		t.Fatalf("expected confirmed write to succeed, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], datastore.ErrUnavailable) {
		t.Fatalf("expected reconcile failure to be reported, got %v", reported)
	}
}

func TestReconcileNotFoundMarksAbsent(t *testing.T) {
	store := &teststubs.StubStore{}
	c := cache.New()
	c.Replace(scored(0, 0))
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})

	if err := coord.IncrementScore(context.Background(), "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}
	if state := c.Lookup("m1").State; state != cache.StateAbsent {
		t.Fatalf("expected absent after NotFound, got %s", state)
	}
}

func TestPendingCountsInFlightWrites(t *testing.T) {
	store, c := setup(t, scored(0, 0))
	var during int
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})
	store.BeforeUpdate = func(string, string, datastore.Record) {
		during = coord.Pending()
	}

	if err := coord.IncrementScore(context.Background(), "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}
	if during != 1 {
		t.Fatalf("expected one pending mutation during the write, got %d", during)
	}
	if coord.Pending() != 0 {
		t.Fatalf("expected no pending mutations afterwards, got %d", coord.Pending())
	}
}

func TestCreateMatchAdmin(t *testing.T) {
	store, c := setup(t, scored(0, 0))
	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{})

	m, err := coord.CreateMatch(context.Background(), matches.NewMatch{
		HomeTeamID: "t3",
		AwayTeamID: "t4",
		StartTime:  testutil.Kickoff.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if m.ID == "" || m.Status != matches.StatusScheduled || m.HomeTeamName != "Team t3" {
		t.Fatalf("unexpected created match %+v", m)
	}
	if cached, ok := c.Get(m.ID); !ok || !reflect.DeepEqual(cached, m) {
		t.Fatalf("expected created match in cache, got %+v %v", cached, ok)
	}
}

func TestCreateMatchWaitsForCollectionFeed(t *testing.T) {
	ctx := context.Background()
	store, c := setup(t, scored(0, 0))
	registry := feed.NewRegistry()
	listener := feed.New(store, c, feed.Scope{}, feed.Options{Registry: registry})
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer listener.Stop(ctx)

	coord := New(store, c, profileOf(testutil.Admin("u1")), Options{Registry: registry})
	m, err := coord.CreateMatch(ctx, matches.NewMatch{HomeTeamID: "t1", AwayTeamID: "t3", StartTime: testutil.Kickoff})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if _, ok := c.Get(m.ID); !ok {
		t.Fatalf("expected the feed to deliver %s", m.ID)
	}
	if store.FetchOneCalls.Load() != 0 {
		t.Fatalf("expected no re-fetch, got %d", store.FetchOneCalls.Load())
	}
}

func TestCreateMatchDenied(t *testing.T) {
	for _, p := range []*profiles.Profile{nil, testutil.Viewer("u1"), testutil.Scorekeeper("u2", "t1")} {
		store := &teststubs.StubStore{}
		coord := New(store, cache.New(), profileOf(p), Options{})
		_, err := coord.CreateMatch(context.Background(), matches.NewMatch{HomeTeamID: "t1", AwayTeamID: "t2", StartTime: testutil.Kickoff})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied for %+v, got %v", p, err)
		}
		if store.Calls() != 0 {
			t.Fatalf("expected zero calls, got %d", store.Calls())
		}
	}
}

func TestCreateMatchValidation(t *testing.T) {
	cases := map[string]matches.NewMatch{
		"missing team": {HomeTeamID: "t1", StartTime: testutil.Kickoff},
		"same team":    {HomeTeamID: "t1", AwayTeamID: "t1", StartTime: testutil.Kickoff},
		"no kickoff":   {HomeTeamID: "t1", AwayTeamID: "t2"},
	}
	for name, nm := range cases {
		t.Run(name, func(t *testing.T) {
			store := &teststubs.StubStore{}
			coord := New(store, cache.New(), profileOf(testutil.Admin("u1")), Options{})
			_, err := coord.CreateMatch(context.Background(), nm)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if store.Calls() != 0 {
				t.Fatalf("expected zero calls, got %d", store.Calls())
			}
		})
	}
}

func TestCreateMatchWriteFailure(t *testing.T) {
	store := &teststubs.StubStore{InsertErr: datastore.ErrInvalidInput}
	coord := New(store, cache.New(), profileOf(testutil.Admin("u1")), Options{})

	_, err := coord.CreateMatch(context.Background(), matches.NewMatch{HomeTeamID: "t1", AwayTeamID: "t9", StartTime: testutil.Kickoff})
	if !errors.Is(err, ErrRemoteWriteFailed) || !errors.Is(err, datastore.ErrInvalidInput) {
		t.Fatalf("expected remote write failure wrapping invalid input, got %v", err)
	}
}
