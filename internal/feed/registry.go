package feed

import "sync"

// Registry is a reference-counted set of active feed scopes.
type Registry struct {
	mu     sync.Mutex
	counts map[Scope]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{counts: make(map[Scope]int)}
}

// Register marks scope as active once more.
func (r *Registry) Register(scope Scope) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[scope]++
}

// Unregister releases one registration of scope.
func (r *Registry) Unregister(scope Scope) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[scope] <= 1 {
		delete(r.counts, scope)
		return
	}
	r.counts[scope]--
}

// Active reports whether scope has at least one live listener.
func (r *Registry) Active(scope Scope) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[scope] > 0
}

// FeedActive reports whether a live listener will deliver changes of
// matchID: a single scope for it or the collection scope.
func (r *Registry) FeedActive(matchID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[Scope{MatchID: matchID}] > 0 || r.counts[Scope{}] > 0
}
