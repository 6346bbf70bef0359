package metrics

import (
	"sync"
	"time"
)

type callStats struct {
	calls           int
	errors          int
	lastCallLatency time.Duration
}

// Recorder captures lightweight, in-memory metrics about data store calls,
// change feeds and mutations, and forwards them to OpenTelemetry when configured.
type Recorder struct {
	mu            sync.Mutex
	stats         map[string]*callStats
	feedEvents    map[string]int
	interruptions map[string]int
	mutations     map[string]int
	resumes       map[string]int
	otel          *otelInstruments
}

func NewRecorder() *Recorder {
	return newRecorder(nil)
}

func newRecorder(otel *otelInstruments) *Recorder {
	return &Recorder{
		stats:         make(map[string]*callStats),
		feedEvents:    make(map[string]int),
		interruptions: make(map[string]int),
		mutations:     make(map[string]int),
		resumes:       make(map[string]int),
		otel:          otel,
	}
}

// RecordDataStoreCall counts one data store operation and stores its latency.
func (r *Recorder) RecordDataStoreCall(store, op string, duration time.Duration, err error) {
	if r == nil {
		return
	}

	r.mu.Lock()
	stats, ok := r.stats[store]
	if !ok {
		stats = &callStats{}
		r.stats[store] = stats
	}
	stats.calls++
	stats.lastCallLatency = duration
	if err != nil {
		stats.errors++
	}
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordDataStoreCall(store, op, duration, err)
	}
}

// RecordFeedEvent counts a change notification handled for scope. kind is
// "payload" when applied directly or "refetch" when it triggered a re-fetch.
func (r *Recorder) RecordFeedEvent(scope, kind string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.feedEvents[scope]++
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordFeedEvent(scope, kind)
	}
}

// RecordFeedInterrupted counts a change feed whose transport ended unexpectedly.
func (r *Recorder) RecordFeedInterrupted(scope string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.interruptions[scope]++
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordFeedInterrupted(scope)
	}
}

// RecordMutation counts a mutation attempt by operation and outcome.
func (r *Recorder) RecordMutation(op, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.mutations[op+"/"+outcome]++
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordMutation(op, outcome, duration)
	}
}

// RecordFeedResume counts an attempt to restart a feed that was down.
// outcome is "ok" or "error".
func (r *Recorder) RecordFeedResume(outcome string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.resumes[outcome]++
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordFeedResume(outcome)
	}
}

// FeedResumes returns how many restarts ended with outcome.
func (r *Recorder) FeedResumes(outcome string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumes[outcome]
}

// RecordHTTPRequest tracks basic HTTP metrics.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if r == nil || r.otel == nil {
		return
	}
	r.otel.recordHTTPRequest(method, path, status, duration)
}

// DataStoreCalls returns the total calls recorded for a store.
func (r *Recorder) DataStoreCalls(store string) int {
	return r.Snapshot(store).Calls
}

// DataStoreErrors returns the failed calls recorded for a store.
func (r *Recorder) DataStoreErrors(store string) int {
	return r.Snapshot(store).Errors
}

// LastCallLatency returns the last recorded latency for a store call.
func (r *Recorder) LastCallLatency(store string) time.Duration {
	return r.Snapshot(store).LastCallLatency
}

// FeedEvents returns the events handled for a scope.
func (r *Recorder) FeedEvents(scope string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feedEvents[scope]
}

// FeedInterruptions returns how often the feed for scope was interrupted.
func (r *Recorder) FeedInterruptions(scope string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interruptions[scope]
}

// Mutations returns the attempts recorded for op with the given outcome.
func (r *Recorder) Mutations(op, outcome string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutations[op+"/"+outcome]
}

// Snapshot is a copy of the call stats for one store.
type Snapshot struct {
	Calls           int
	Errors          int
	LastCallLatency time.Duration
}

func (r *Recorder) Snapshot(store string) Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.stats[store]
	if !ok || stats == nil {
		return Snapshot{}
	}
	return Snapshot{
		Calls:           stats.calls,
		Errors:          stats.errors,
		LastCallLatency: stats.lastCallLatency,
	}
}
