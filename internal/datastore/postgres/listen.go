package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

// notifyChannel is the NOTIFY channel written by the table triggers.
const notifyChannel = "livescore_changes"

type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type dialFunc func(ctx context.Context) (listenConn, error)

type poolConn struct {
	conn *pgxpool.Conn
}

func (p poolConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.conn.Exec(ctx, sql, args...)
}

func (p poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return p.conn.Conn().WaitForNotification(ctx)
}

func (p poolConn) Release() {
	p.conn.Release()
}

func poolDialer(pool *pgxpool.Pool) dialFunc {
	return func(ctx context.Context) (listenConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return poolConn{conn: conn}, nil
	}
}

type subscriber struct {
	table  string
	filter datastore.Filter
	feed   *datastore.Feed
}

// SubscribeChanges registers a subscription on table. All subscriptions share
// one LISTEN connection, which is established before the first subscription
// returns so no change committed afterwards is missed.
func (s *Store) SubscribeChanges(ctx context.Context, table string, filter datastore.Filter) (datastore.Subscription, error) {
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := spec.checkFilter(filter); err != nil {
		return nil, err
	}
	if s.dial == nil {
		return nil, fmt.Errorf("%w: change notifications not configured", datastore.ErrUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", datastore.ErrUnavailable)
	}
	if !s.running {
		if err := s.startLocked(ctx); err != nil {
			return nil, err
		}
	}

	id := s.nextID
	s.nextID++
	copied := make(datastore.Filter, len(filter))
	for k, v := range filter {
		copied[k] = v
	}
	feed := datastore.NewFeed(s.buffer, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	})
	s.subs[id] = &subscriber{table: table, filter: copied, feed: feed}
	return feed, nil
}

// Close stops the change listener and ends every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		sub.feed.Fail(fmt.Errorf("%w: store closed", datastore.ErrUnavailable))
		delete(s.subs, id)
	}
	cancel, done, running := s.cancel, s.done, s.running
	s.running = false
	s.mu.Unlock()

	if running {
		cancel()
		<-done
	}
}

func (s *Store) startLocked(ctx context.Context) error {
	conn, err := s.listen(ctx)
	if err != nil {
		return mapError(err, notifyChannel, "listen")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	go s.run(runCtx, conn, done)
	return nil
}

func (s *Store) listen(ctx context.Context) (listenConn, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

func (s *Store) run(ctx context.Context, conn listenConn, done chan struct{}) {
	defer close(done)
	for {
		err := s.pump(ctx, conn)
		conn.Release()
		if ctx.Err() != nil {
			return
		}
		logging.WarnErr(s.logger, "change listener connection lost", err)

		conn, err = s.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error(s.logger, "change listener gave up reconnecting", err)
			s.failAll(fmt.Errorf("%w: %v", datastore.ErrTransportInterrupted, err))
			return
		}
		logging.Info(s.logger, "change listener reconnected")
		// Changes committed while disconnected were not delivered.
		s.broadcastBare()
	}
}

func (s *Store) pump(ctx context.Context, conn listenConn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeNotification(n.Payload)
		if err != nil {
			logging.WarnErr(s.logger, "dropping malformed notification", err)
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Store) reconnect(ctx context.Context) (listenConn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.reconnectBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.reconnectAttempts), ctx)

	return backoff.RetryNotifyWithData[listenConn](func() (listenConn, error) {
		return s.listen(ctx)
	}, policy, func(err error, wait time.Duration) {
		logging.WarnErr(s.logger, "change listener reconnect failed", err, "retry_in", wait)
	})
}

func (s *Store) dispatch(ev datastore.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.table != ev.Table {
			continue
		}
		if !ev.Bare() && !sub.filter.Matches(ev.New) {
			continue
		}
		if !sub.feed.Publish(ev) {
			delete(s.subs, id)
		}
	}
}

func (s *Store) broadcastBare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if !sub.feed.Publish(datastore.Event{Table: sub.table, Operation: datastore.OpUpdate}) {
			delete(s.subs, id)
		}
	}
}

func (s *Store) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		sub.feed.Fail(err)
		delete(s.subs, id)
	}
	s.running = false
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

var errMalformedNotification = errors.New("malformed notification")

func decodeNotification(payload string) (datastore.Event, error) {
	var ev datastore.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return datastore.Event{}, fmt.Errorf("%w: %v", errMalformedNotification, err)
	}
	if ev.Table == "" || ev.Operation == "" {
		return datastore.Event{}, fmt.Errorf("%w: missing table or operation", errMalformedNotification)
	}
	return ev, nil
}
