package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/preston-bernstein/livescore-service/internal/logging"
)

// TestService is the service name stamped on loggers built for tests.
const TestService = "livescore-service"

// NewBufferLogger returns a debug-level text logger shaped like the server's,
// writing into the returned buffer.
func NewBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{
		Level:   "debug",
		Service: TestService,
		Output:  &buf,
	})
	return logger, &buf
}

// AssertLogged fails the test unless every fragment appears in the captured log.
func AssertLogged(t *testing.T, buf *bytes.Buffer, fragments ...string) {
	t.Helper()
	out := buf.String()
	for _, f := range fragments {
		if !strings.Contains(out, f) {
			t.Fatalf("expected log to contain %q, got %q", f, out)
		}
	}
}
