package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/profiles"
	"github.com/preston-bernstein/livescore-service/internal/http/requestutil"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

const writeWait = 5 * time.Second

// Realtime streams change events of one table over a websocket. The query
// carries the table and optional eq. filters, e.g. ?table=matches&id=eq.m1.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get(datastore.ParamTable)
	if err := datastore.CheckTable(table); err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	filter, err := datastore.ParseFilter(r.URL.Query(), datastore.ParamTable, requestutil.AccessTokenParam)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	c, err := h.caller(r.Context())
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	if table == datastore.TableProfiles && c.identity == nil {
		writeError(w, r, http.StatusForbidden, "sign in to follow profiles", h.logger)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := h.store.SubscribeChanges(ctx, table, filter)
	if err != nil {
		writeFailure(w, r, err, h.logger)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		return
	}
	defer conn.Close()

	logger := logging.With(loggerFromContext(r, h.logger), logging.FieldConnID, ulid.Make().String(), logging.FieldTable, table)
	logging.Info(logger, "realtime connected")

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			logging.Info(logger, "realtime disconnected", logging.FieldCount, sent)
			return
		case <-h.draining:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			logging.Info(logger, "realtime closed for shutdown", logging.FieldCount, sent)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.WarnErr(logger, "realtime ping failed", err)
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				reason := "feed ended"
				if err := sub.Err(); err != nil {
					reason = err.Error()
					logging.WarnErr(logger, "realtime feed ended", err)
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), time.Now().Add(writeWait))
				return
			}
			if !c.mayReceive(ev) {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				logging.Error(logger, "encode realtime event", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.WarnErr(logger, "realtime write failed", err)
				return
			}
			sent++
		}
	}
}

// mayReceive applies the read rules to a change event. Profile changes are
// only delivered to their owner and to admins.
func (c caller) mayReceive(ev datastore.Event) bool {
	if ev.Table != datastore.TableProfiles || ev.Bare() || c.profile.IsAdmin() {
		return true
	}
	return c.owns(ev.New.String(profiles.ColumnID))
}
