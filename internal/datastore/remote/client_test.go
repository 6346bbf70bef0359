package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:           srv.URL + "/",
		Token:             "secret",
		ReconnectAttempts: 2,
		ReconnectBackoff:  time.Millisecond,
	})
}

// capture hands values from server handlers to the test goroutine.
type capture[T any] struct {
	mu  sync.Mutex
	val T
}

func (c *capture[T]) set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
}

func (c *capture[T]) get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchOneSendsTokenAndDecodes(t *testing.T) {
	var got capture[*http.Request]
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.set(r.Clone(context.Background()))
		writeJSON(w, http.StatusOK, map[string]any{"id": "m1", "home_score": 2})
	}))

	rec, err := client.FetchOne(context.Background(), datastore.TableMatches, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := got.get()
	if auth := req.Header.Get("Authorization"); auth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
	if req.URL.Path != "/v1/matches/m1" {
		t.Fatalf("unexpected path %q", req.URL.Path)
	}
	if n, ok := datastore.AsInt(rec["home_score"]); !ok || n != 2 {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestStatusErrorsMapToDataStoreErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, datastore.ErrNotFound},
		{http.StatusForbidden, datastore.ErrForbidden},
		{http.StatusUnauthorized, datastore.ErrForbidden},
		{http.StatusBadRequest, datastore.ErrInvalidInput},
		{http.StatusBadGateway, datastore.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"error": "nope", "requestId": "r1"})
			}))
			_, err := client.FetchOne(context.Background(), datastore.TableMatches, "m1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRateLimitedWrite(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow down"})
	}))

	err := client.Update(context.Background(), datastore.TableMatches, "m1", datastore.Record{"home_score": 1})
	rl, ok := AsRateLimitError(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rl.RetryAfter != 3*time.Second || rl.Message != "slow down" {
		t.Fatalf("unexpected rate limit error %+v", rl)
	}
	if !errors.Is(err, datastore.ErrUnavailable) {
		t.Fatalf("rate limit should match unavailable")
	}
}

func TestFetchManyEncodesQuery(t *testing.T) {
	var got capture[datastore.Query]
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, err := datastore.ParseQuery(r.URL.Query())
		if err != nil {
			t.Errorf("server could not parse query: %v", err)
		}
		got.set(q)
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "m1"}, {"id": "m2"}})
	}))

	recs, err := client.FetchMany(context.Background(), datastore.TableMatches, datastore.Query{
		Filter: datastore.Filter{"status": "LIVE"},
		Order:  []datastore.Order{{Column: "start_time"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	gotQuery := got.get()
	if gotQuery.Filter["status"] != "LIVE" || len(gotQuery.Order) != 1 || gotQuery.Order[0].Column != "start_time" {
		t.Fatalf("unexpected query %+v", gotQuery)
	}
}

func TestUpdateAndInsertSendJSON(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		bodies  []map[string]any
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		methods = append(methods, r.Method+" "+r.URL.Path)
		bodies = append(bodies, body)
		mu.Unlock()
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": "new", "name": body["name"]})
	}))

	ctx := context.Background()
	if err := client.Update(ctx, datastore.TableMatches, "m1", datastore.Record{"status": "LIVE"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err := client.Insert(ctx, datastore.TableTeams, datastore.Record{"name": "Hawks"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.String("id") != "new" || rec.String("name") != "Hawks" {
		t.Fatalf("unexpected insert result %v", rec)
	}
	mu.Lock()
	defer mu.Unlock()
	if methods[0] != "PATCH /v1/matches/m1" || methods[1] != "POST /v1/teams" {
		t.Fatalf("unexpected requests %v", methods)
	}
	if bodies[0]["status"] != "LIVE" {
		t.Fatalf("unexpected patch body %v", bodies[0])
	}
}

func TestUnknownTableRejectedLocally(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.FetchOne(context.Background(), "secrets", "x"); !errors.Is(err, datastore.ErrUnknownTable) {
		t.Fatalf("expected unknown table, got %v", err)
	}
}

// realtimeServer upgrades each connection and hands it to the next handler
// in order. Connections beyond the list are refused with 503.
type realtimeServer struct {
	t        *testing.T
	mu       sync.Mutex
	handlers []func(conn *websocket.Conn, r *http.Request)
	upgrader websocket.Upgrader
}

func (s *realtimeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != realtimePath {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	if len(s.handlers) == 0 {
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "down"})
		return
	}
	handle := s.handlers[0]
	s.handlers = s.handlers[1:]
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	handle(conn, r)
}

func nextEvent(t *testing.T, sub datastore.Subscription) datastore.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return datastore.Event{}
}

func TestSubscribeReceivesEventsAndResyncsAfterReconnect(t *testing.T) {
	var params capture[url.Values]
	release := make(chan struct{})
	srv := &realtimeServer{t: t}
	srv.handlers = []func(*websocket.Conn, *http.Request){
		func(conn *websocket.Conn, r *http.Request) {
			params.set(r.URL.Query())
			_ = conn.WriteJSON(datastore.Event{Table: "matches", Operation: datastore.OpUpdate, New: datastore.Record{"id": "m1"}})
		},
		func(conn *websocket.Conn, r *http.Request) {
			_ = conn.WriteJSON(datastore.Event{Table: "matches", Operation: datastore.OpUpdate, New: datastore.Record{"id": "m1", "home_score": 3}})
			<-release
		},
	}
	client := newTestClient(t, srv)
	t.Cleanup(func() { close(release) })

	sub, err := client.SubscribeChanges(context.Background(), datastore.TableMatches, datastore.Filter{"id": "m1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if ev := nextEvent(t, sub); ev.New.String("id") != "m1" {
		t.Fatalf("unexpected first event %+v", ev)
	}
	if p := params.get(); p.Get("table") != "matches" || p.Get("id") != "eq.m1" {
		t.Fatalf("unexpected realtime params %v", p)
	}
	if ev := nextEvent(t, sub); !ev.Bare() {
		t.Fatalf("expected bare resync event after reconnect, got %+v", ev)
	}
	if ev := nextEvent(t, sub); ev.New.String("home_score") != "3" {
		t.Fatalf("unexpected event after reconnect %+v", ev)
	}
}

func TestSubscribeFailsAfterReconnectAttempts(t *testing.T) {
	srv := &realtimeServer{t: t}
	srv.handlers = []func(*websocket.Conn, *http.Request){
		func(conn *websocket.Conn, r *http.Request) {},
	}
	client := newTestClient(t, srv)

	sub, err := client.SubscribeChanges(context.Background(), datastore.TableMatches, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected subscription to end without events")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for subscription to fail")
	}
	if !errors.Is(sub.Err(), datastore.ErrTransportInterrupted) {
		t.Fatalf("expected transport interrupted, got %v", sub.Err())
	}
}

func TestSubscribeRejectedUpgrade(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}))
	if _, err := client.SubscribeChanges(context.Background(), datastore.TableMatches, nil); !errors.Is(err, datastore.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
