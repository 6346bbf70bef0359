package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/mutation"
	"github.com/preston-bernstein/livescore-service/internal/testutil"
)

func TestWriteErrorEchoesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/matches/m9", nil)
	req.Header.Set("X-Request-ID", "abc123")

	rr := httptest.NewRecorder()
	writeError(rr, req, http.StatusNotFound, "not found", nil)

	testutil.AssertStatus(t, rr, http.StatusNotFound)
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content type json, got %s", got)
	}
	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	if body["requestId"] != "abc123" || body["error"] != "not found" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestWriteJSONLogsEncodeError(t *testing.T) {
	logger, buf := testutil.NewBufferLogger()
	rr := testutil.Serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, make(chan int), logger)
	}), http.MethodGet, "/matches", nil)

	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertLogged(t, buf, "failed to encode response", "error=")
}

func TestStatusForMapsScoreboardErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{mutation.ErrRemoteWriteFailed, http.StatusBadGateway},
		{fmt.Errorf("%w: increment_score m1", mutation.ErrPermissionDenied), http.StatusForbidden},
		{datastore.ErrForbidden, http.StatusForbidden},
		{mutation.ErrInvalidArgument, http.StatusBadRequest},
		{matches.ErrInvalidSide, http.StatusBadRequest},
		{matches.ErrInvalidStatus, http.StatusBadRequest},
		{datastore.ErrNotFound, http.StatusNotFound},
		{datastore.ErrUnknownTable, http.StatusNotFound},
		{datastore.ErrTransportInterrupted, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func TestWriteFailureLogsOnlyServerErrors(t *testing.T) {
	logger, buf := testutil.NewBufferLogger()
	req := httptest.NewRequest(http.MethodGet, "/matches", nil)

	rr := httptest.NewRecorder()
	writeFailure(rr, req, datastore.ErrUnavailable, logger)
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertLogged(t, buf, "request failed", "status_code=503")

	buf.Reset()
	rr = httptest.NewRecorder()
	writeFailure(rr, req, datastore.ErrNotFound, logger)
	if rr.Code != http.StatusNotFound || buf.Len() != 0 {
		t.Fatalf("expected quiet 404, got %d with log %q", rr.Code, buf.String())
	}
	if msg := testutil.ErrorMessage(t, rr); msg != datastore.ErrNotFound.Error() {
		t.Fatalf("expected not found message, got %q", msg)
	}
}
