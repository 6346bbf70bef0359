package server

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Realtime connections are hijacked, and the upgrader clears the deadlines
// read and write timeouts set, so these only bound REST calls.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	// connectTimeout bounds the initial database ping and migrations.
	connectTimeout = 15 * time.Second
)

// shutdownTimeout is how long open requests get to finish. Tests shorten it.
var shutdownTimeout = 10 * time.Second

// httpServer abstracts the HTTP server implementation for easier testing.
type httpServer interface {
	ListenAndServe() error
	Shutdown(context.Context) error
	Addr() string
	Handler() http.Handler
}

type netHTTPServer struct {
	srv *http.Server
	// listener, when set, is served instead of binding srv.Addr.
	listener net.Listener
}

// newHTTPServer wraps srv and registers onShutdown hooks. Shutdown runs them
// while it drains ordinary requests, which is how hijacked realtime
// connections learn the server is going away.
func newHTTPServer(srv *http.Server, onShutdown ...func()) netHTTPServer {
	for _, fn := range onShutdown {
		if fn != nil {
			srv.RegisterOnShutdown(fn)
		}
	}
	return netHTTPServer{srv: srv}
}

func (s netHTTPServer) ListenAndServe() error {
	if s.listener != nil {
		return s.srv.Serve(s.listener)
	}
	return s.srv.ListenAndServe()
}

func (s netHTTPServer) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
func (s netHTTPServer) Handler() http.Handler              { return s.srv.Handler }

func (s netHTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}
