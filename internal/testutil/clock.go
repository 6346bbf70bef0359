package testutil

import (
	"testing"
	"time"
)

// NowAt returns a clock fixed at t, for code that takes a now func.
func NowAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Eventually polls cond until it returns true or two seconds pass. Feed
// events and reconciles land asynchronously, so most cache assertions go
// through here.
func Eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
