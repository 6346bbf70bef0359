package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

var errFeedEnded = errors.New("subscription ended")

// SubscribeChanges opens a websocket to the realtime endpoint. The first
// connection is made before returning; later drops are retried with backoff
// and followed by a bare event so the consumer re-fetches its scope.
func (c *Client) SubscribeChanges(ctx context.Context, table string, filter datastore.Filter) (datastore.Subscription, error) {
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}
	target, err := c.realtimeURL(table, filter)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	feed := datastore.NewFeed(c.buffer, cancel)
	go c.run(runCtx, conn, target, table, feed)
	return feed, nil
}

func (c *Client) realtimeURL(table string, filter datastore.Filter) (string, error) {
	var target string
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		target = "wss://" + strings.TrimPrefix(c.baseURL, "https://")
	case strings.HasPrefix(c.baseURL, "http://"):
		target = "ws://" + strings.TrimPrefix(c.baseURL, "http://")
	case strings.HasPrefix(c.baseURL, "ws://"), strings.HasPrefix(c.baseURL, "wss://"):
		target = c.baseURL
	default:
		return "", fmt.Errorf("%w: unsupported base URL %q", datastore.ErrInvalidInput, c.baseURL)
	}
	params := datastore.EncodeFilter(filter)
	params.Set(datastore.ParamTable, table)
	return target + realtimePath + "?" + params.Encode(), nil
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, target, c.authHeader())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, statusError(resp)
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", datastore.ErrUnavailable, err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn, target, table string, feed *datastore.Feed) {
	for {
		err := c.read(ctx, conn, feed)
		conn.Close()
		if ctx.Err() != nil || errors.Is(err, errFeedEnded) {
			return
		}
		logging.WarnErr(c.logger, "realtime connection lost", err, logging.FieldTable, table)

		conn, err = c.redial(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error(c.logger, "realtime reconnect gave up", err, logging.FieldTable, table)
			feed.Fail(fmt.Errorf("%w: %v", datastore.ErrTransportInterrupted, err))
			return
		}
		logging.Info(c.logger, "realtime reconnected", logging.FieldTable, table)
		if !feed.Publish(datastore.Event{Table: table, Operation: datastore.OpUpdate}) {
			conn.Close()
			return
		}
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn, feed *datastore.Feed) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		var ev datastore.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Table == "" {
			logging.WarnErr(c.logger, "dropping malformed realtime message", err)
			continue
		}
		if !feed.Publish(ev) {
			return errFeedEnded
		}
	}
}

func (c *Client) redial(ctx context.Context, target string) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnectBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.reconnectAttempts), ctx)

	return backoff.RetryNotifyWithData[*websocket.Conn](func() (*websocket.Conn, error) {
		conn, err := c.dial(ctx, target)
		if err != nil && datastore.IsPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	}, policy, func(err error, wait time.Duration) {
		logging.WarnErr(c.logger, "realtime reconnect failed", err, "retry_in", wait)
	})
}
