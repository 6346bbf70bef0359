package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/datastore/memory"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/feed"
	"github.com/preston-bernstein/livescore-service/internal/mutation"
	"github.com/preston-bernstein/livescore-service/internal/teststubs"
	"github.com/preston-bernstein/livescore-service/internal/testutil"
	"github.com/preston-bernstein/livescore-service/internal/view"
)

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	m1 := testutil.SampleMatch("m1", "t1", "t2")
	m1.HomeScore = 2
	m2 := testutil.SampleMatch("m2", "t3", "t4")
	return testutil.SeedStore(t, []matches.Match{m1, m2},
		testutil.Admin("admin"),
		testutil.Scorekeeper("keeper", "t1"),
		testutil.Viewer("viewer"),
	)
}

func startClient(t *testing.T, store datastore.Store, session *auth.StaticSession) *Client {
	t.Helper()
	c := New(store, session, Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestMatchViewFollowsScope(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	c := startClient(t, store, teststubs.SignedIn("keeper"))

	if v := c.MatchView("m1"); v.Phase != view.PhaseLoading {
		t.Fatalf("expected loading before entering, got %s", v.Phase)
	}
	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}

	v := c.MatchView("m1")
	if v.Phase != view.PhaseReady || v.Score != "2 - 0" || !v.CanEdit {
		t.Fatalf("unexpected view %+v", v)
	}

	if err := store.Update(ctx, datastore.TableMatches, "m1", datastore.Record{"away_score": 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	testutil.Eventually(t, "remote change projected", func() bool {
		return c.MatchView("m1").Score == "2 - 1"
	})
}

func TestMissingMatchProjectsNotFound(t *testing.T) {
	c := startClient(t, seeded(t), teststubs.SignedIn("viewer"))
	if err := c.EnterMatch(context.Background(), "nope"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}
	if v := c.MatchView("nope"); v.Phase != view.PhaseNotFound {
		t.Fatalf("expected not_found, got %s", v.Phase)
	}
}

func TestIncrementScoreUpdatesWatchers(t *testing.T) {
	ctx := context.Background()
	c := startClient(t, seeded(t), teststubs.SignedIn("admin"))
	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}

	var (
		mu      sync.Mutex
		updates []view.MatchView
	)
	stop := c.WatchMatch("m1", func(v view.MatchView) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, v)
	})
	defer stop()

	if err := c.IncrementScore(ctx, "m1", matches.SideHome); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}
	if v := c.MatchView("m1"); v.Score != "3 - 0" || v.Updating {
		t.Fatalf("expected 3 - 0 and idle, got %+v", v)
	}

	mu.Lock()
	defer mu.Unlock()
	sawUpdating := false
	for _, v := range updates {
		if v.Updating {
			sawUpdating = true
		}
	}
	if !sawUpdating {
		t.Fatalf("expected a projection with the updating flag, got %d updates", len(updates))
	}
}

func TestFailedMutationSetsLastErrorAndSuccessClearsIt(t *testing.T) {
	ctx := context.Background()
	c := startClient(t, seeded(t), teststubs.SignedIn("keeper"))
	if err := c.EnterCollection(ctx); err != nil {
		t.Fatalf("EnterCollection: %v", err)
	}

	err := c.IncrementScore(ctx, "m2", matches.SideHome)
	if !errors.Is(err, mutation.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if !strings.Contains(c.LastError(), "permission denied") {
		t.Fatalf("expected last error to be set, got %q", c.LastError())
	}
	if v := c.MatchView("m2"); v.LastError == "" {
		t.Fatalf("expected projection to carry the last error")
	}

	if err := c.IncrementScore(ctx, "m1", matches.SideAway); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}
	if c.LastError() != "" {
		t.Fatalf("expected success to clear the last error, got %q", c.LastError())
	}
}

func TestIdentityChangeReloadsPermissions(t *testing.T) {
	ctx := context.Background()
	session := teststubs.SignedIn("viewer")
	c := startClient(t, seeded(t), session)
	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}
	if c.MatchView("m1").CanEdit {
		t.Fatalf("viewer must not edit")
	}

	session.SignIn(auth.Identity{ID: "admin"})
	testutil.Eventually(t, "admin profile loaded", func() bool {
		v := c.MatchView("m1")
		return v.CanEdit && v.CanCreate
	})

	session.SignOut()
	testutil.Eventually(t, "signed out", func() bool {
		return !c.MatchView("m1").CanEdit
	})
}

func TestMissingProfileSurfacesError(t *testing.T) {
	c := startClient(t, seeded(t), teststubs.SignedIn("stranger"))
	if !strings.Contains(c.LastError(), "profile not found") {
		t.Fatalf("expected profile error, got %q", c.LastError())
	}
	if c.Session().Profile != nil {
		t.Fatalf("expected no profile")
	}
}

func TestInterruptedFeedIsReportedAndRestarted(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	c := startClient(t, store, teststubs.SignedIn("viewer"))
	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}

	store.DropSubscriptions(nil)
	testutil.Eventually(t, "interruption reported", func() bool {
		return strings.Contains(c.LastError(), "interrupted")
	})
	status, ok := c.FeedStatus(feed.Scope{MatchID: "m1"})
	if !ok || !status.Interrupted {
		t.Fatalf("expected interrupted status, got %+v", status)
	}

	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch again: %v", err)
	}
	status, _ = c.FeedStatus(feed.Scope{MatchID: "m1"})
	if !status.IsReady() {
		t.Fatalf("expected restarted feed, got %+v", status)
	}
	if store.Subscribers() != 1 {
		t.Fatalf("expected one live subscription, got %d", store.Subscribers())
	}
}

func TestScopesAreReferenceCounted(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	c := startClient(t, store, teststubs.SignedIn("viewer"))

	for range 2 {
		if err := c.EnterCollection(ctx); err != nil {
			t.Fatalf("EnterCollection: %v", err)
		}
	}
	if lv := c.ListView(); lv.Phase != view.PhaseReady || len(lv.Matches) != 2 {
		t.Fatalf("unexpected list %+v", lv)
	}
	if store.Subscribers() != 1 {
		t.Fatalf("expected a shared subscription, got %d", store.Subscribers())
	}

	if err := c.LeaveCollection(ctx); err != nil {
		t.Fatalf("LeaveCollection: %v", err)
	}
	if store.Subscribers() != 1 {
		t.Fatalf("expected subscription kept while referenced")
	}
	if err := c.LeaveCollection(ctx); err != nil {
		t.Fatalf("LeaveCollection: %v", err)
	}
	if store.Subscribers() != 0 {
		t.Fatalf("expected subscription released, got %d", store.Subscribers())
	}
}

func TestCreateMatchAppearsInList(t *testing.T) {
	ctx := context.Background()
	c := startClient(t, seeded(t), teststubs.SignedIn("admin"))
	if err := c.EnterCollection(ctx); err != nil {
		t.Fatalf("EnterCollection: %v", err)
	}

	created, err := c.CreateMatch(ctx, matches.NewMatch{HomeTeamID: "t2", AwayTeamID: "t3", StartTime: testutil.Kickoff})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	found := false
	for _, v := range c.ListView().Matches {
		if v.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in list", created.ID)
	}
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	c := New(store, teststubs.SignedIn("admin"), Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if store.Subscribers() != 0 {
		t.Fatalf("expected subscriptions released, got %d", store.Subscribers())
	}
	if err := c.IncrementScore(ctx, "m1", matches.SideHome); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.EnterMatch(ctx, "m1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRestartSurfacesStaleStopFailure(t *testing.T) {
	orig := stopListener
	stopListener = func(*feed.Listener, context.Context) error { return errors.New("stop timed out") }
	t.Cleanup(func() { stopListener = orig })

	ctx := context.Background()
	store := seeded(t)
	c := startClient(t, store, teststubs.SignedIn("viewer"))
	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch: %v", err)
	}

	store.DropSubscriptions(nil)
	testutil.Eventually(t, "interruption reported", func() bool {
		status, _ := c.FeedStatus(feed.Scope{MatchID: "m1"})
		return status.Interrupted
	})

	if err := c.EnterMatch(ctx, "m1"); err != nil {
		t.Fatalf("EnterMatch again: %v", err)
	}
	if got := c.LastError(); !strings.Contains(got, "stop timed out") {
		t.Fatalf("expected stop failure in last error, got %q", got)
	}
	status, _ := c.FeedStatus(feed.Scope{MatchID: "m1"})
	if !status.IsReady() {
		t.Fatalf("expected restarted feed, got %+v", status)
	}
}
