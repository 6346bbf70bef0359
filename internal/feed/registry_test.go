package feed

import "testing"

func TestRegistryRefCounts(t *testing.T) {
	r := NewRegistry()
	single := Scope{MatchID: "m1"}

	r.Register(single)
	r.Register(single)
	r.Unregister(single)
	if !r.Active(single) || !r.FeedActive("m1") {
		t.Fatalf("expected scope still active after one unregister")
	}
	r.Unregister(single)
	if r.FeedActive("m1") {
		t.Fatalf("expected scope inactive")
	}
	r.Unregister(single)

	r.Register(Scope{})
	if !r.FeedActive("anything") {
		t.Fatalf("collection scope covers every match")
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.Register(Scope{})
	r.Unregister(Scope{})
	if r.Active(Scope{}) || r.FeedActive("m1") {
		t.Fatalf("nil registry is never active")
	}
}
