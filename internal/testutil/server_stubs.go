package testutil

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrListen is what FailingHTTPServer returns from ListenAndServe.
var ErrListen = errors.New("listen failure")

// StubHTTPServer stands in for the server's HTTP listener. ListenAndServe
// returns ListenErr at once. Shutdown returns ShutdownErr, first waiting for
// Unblock or the context when Unblock is set. Calls are counted safely since
// the server drives them from its own goroutines.
type StubHTTPServer struct {
	AddrVal     string
	HandlerVal  http.Handler
	ListenErr   error
	ShutdownErr error
	Unblock     chan struct{}

	mu            sync.Mutex
	listenCalls   int
	shutdownCalls int
}

// FailingHTTPServer fails to bind, as a server whose port is taken would.
func FailingHTTPServer() *StubHTTPServer {
	return &StubHTTPServer{ListenErr: ErrListen}
}

// ClosedHTTPServer reports a clean close from ListenAndServe.
func ClosedHTTPServer() *StubHTTPServer {
	return &StubHTTPServer{ListenErr: http.ErrServerClosed}
}

// BlockingHTTPServer holds Shutdown until Unblock is closed or the shutdown
// deadline passes.
func BlockingHTTPServer() *StubHTTPServer {
	return &StubHTTPServer{Unblock: make(chan struct{})}
}

func (s *StubHTTPServer) ListenAndServe() error {
	s.mu.Lock()
	s.listenCalls++
	s.mu.Unlock()
	return s.ListenErr
}

func (s *StubHTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdownCalls++
	s.mu.Unlock()
	if s.Unblock != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Unblock:
		}
	}
	return s.ShutdownErr
}

func (s *StubHTTPServer) Addr() string {
	if s.AddrVal == "" {
		return ":0"
	}
	return s.AddrVal
}

func (s *StubHTTPServer) Handler() http.Handler {
	if s.HandlerVal == nil {
		return http.NotFoundHandler()
	}
	return s.HandlerVal
}

// ListenCalls reports how often ListenAndServe ran.
func (s *StubHTTPServer) ListenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenCalls
}

// ShutdownCalls reports how often Shutdown ran.
func (s *StubHTTPServer) ShutdownCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownCalls
}
