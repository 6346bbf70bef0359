package handlers

import (
	"log/slog"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/preston-bernstein/livescore-service/internal/app/scoreboard"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/feed"
)

const defaultPingPeriod = 30 * time.Second

// Handler wires HTTP routes to the scoreboard service and the data store.
type Handler struct {
	svc        *scoreboard.Service
	store      datastore.Store
	logger     *slog.Logger
	statusFn   func() feed.Status
	upgrader   websocket.Upgrader
	pingPeriod time.Duration

	// closed by CloseStreams to end open realtime connections
	draining  chan struct{}
	drainOnce sync.Once
}

// NewHandler constructs a Handler with defaults. statusFn reports the
// collection feed for readiness and may be nil.
func NewHandler(svc *scoreboard.Service, store datastore.Store, logger *slog.Logger, statusFn func() feed.Status) *Handler {
	return &Handler{
		svc:      svc,
		store:    store,
		logger:   logger,
		statusFn: statusFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*nethttp.Request) bool { return true },
		},
		pingPeriod: defaultPingPeriod,
		draining:   make(chan struct{}),
	}
}

// CloseStreams tells every open realtime connection to close with a going
// away frame. http.Server.Shutdown does not wait for hijacked connections,
// so the server registers this as a shutdown hook. Safe to call repeatedly.
func (h *Handler) CloseStreams() {
	h.drainOnce.Do(func() { close(h.draining) })
}

// Health reports the service health.
func (h *Handler) Health(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := r.Context().Err(); err != nil {
		writeError(w, r, nethttp.StatusServiceUnavailable, "shutting down", h.logger)
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

// Ready reports whether the collection feed is up.
func (h *Handler) Ready(w nethttp.ResponseWriter, r *nethttp.Request) {
	if h.statusFn == nil {
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ready"}, h.logger)
		return
	}
	status := h.statusFn()
	if status.IsReady() {
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ready"}, h.logger)
		return
	}
	msg := status.LastError
	if msg == "" {
		msg = "not ready"
	}
	writeError(w, r, nethttp.StatusServiceUnavailable, msg, h.logger)
}

// NotFound answers unknown routes with the JSON error body.
func (h *Handler) NotFound(w nethttp.ResponseWriter, r *nethttp.Request) {
	writeError(w, r, nethttp.StatusNotFound, "not found", h.logger)
}

// MethodNotAllowed answers known routes called with the wrong verb.
func (h *Handler) MethodNotAllowed(w nethttp.ResponseWriter, r *nethttp.Request) {
	writeError(w, r, nethttp.StatusMethodNotAllowed, "method not allowed", h.logger)
}
