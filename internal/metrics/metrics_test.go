package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestRecorderTracksDataStoreCallsAndErrors(t *testing.T) {
	rec := NewRecorder()
	rec.RecordDataStoreCall("postgres", "fetch_one", 10*time.Millisecond, nil)
	rec.RecordDataStoreCall("postgres", "update", 15*time.Millisecond, errors.New("boom"))

	if got := rec.DataStoreCalls("postgres"); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
	if got := rec.DataStoreErrors("postgres"); got != 1 {
		t.Fatalf("expected 1 error, got %d", got)
	}
	if got := rec.LastCallLatency("postgres"); got != 15*time.Millisecond {
		t.Fatalf("expected last latency to be 15ms, got %s", got)
	}

	snap := rec.Snapshot("postgres")
	if snap.Calls != 2 || snap.Errors != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if rec.Snapshot("memory") != (Snapshot{}) {
		t.Fatalf("expected empty snapshot for unknown store")
	}
}

func TestRecorderTracksFeedsAndMutations(t *testing.T) {
	rec := NewRecorder()
	rec.RecordFeedEvent("match:m1", "payload")
	rec.RecordFeedEvent("match:m1", "refetch")
	rec.RecordFeedInterrupted("match:m1")
	rec.RecordMutation("increment_score", "ok", time.Millisecond)
	rec.RecordMutation("increment_score", "denied", 0)
	rec.RecordMutation("increment_score", "ok", time.Millisecond)
	rec.RecordFeedResume("ok")
	rec.RecordFeedResume("error")
	rec.RecordFeedResume("error")

	if got := rec.FeedResumes("error"); got != 2 {
		t.Fatalf("expected 2 failed resumes, got %d", got)
	}
	if got := rec.FeedEvents("match:m1"); got != 2 {
		t.Fatalf("expected 2 feed events, got %d", got)
	}
	if got := rec.FeedInterruptions("match:m1"); got != 1 {
		t.Fatalf("expected 1 interruption, got %d", got)
	}
	if got := rec.Mutations("increment_score", "ok"); got != 2 {
		t.Fatalf("expected 2 ok mutations, got %d", got)
	}
	if got := rec.Mutations("increment_score", "denied"); got != 1 {
		t.Fatalf("expected 1 denied mutation, got %d", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.RecordDataStoreCall("memory", "fetch_one", time.Millisecond, nil)
	rec.RecordFeedEvent("collection", "payload")
	rec.RecordFeedInterrupted("collection")
	rec.RecordMutation("set_status", "ok", 0)
	rec.RecordHTTPRequest("GET", "/health", 200, 0)
	rec.RecordFeedResume("ok")

	if rec.DataStoreCalls("memory") != 0 || rec.FeedEvents("collection") != 0 || rec.Mutations("set_status", "ok") != 0 || rec.FeedResumes("ok") != 0 {
		t.Fatalf("expected zero values from nil recorder")
	}
}
