package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
)

// RateLimitError is returned when the server throttles writes. It matches
// datastore.ErrUnavailable.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limited"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (status=%d, retry after %s)", msg, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
}

func (e *RateLimitError) Unwrap() error {
	return datastore.ErrUnavailable
}

// AsRateLimitError attempts to unwrap an error into a RateLimitError.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr, true
	}
	return nil, false
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// statusError converts a non-2xx response to a data store error.
func statusError(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    msg,
		}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", datastore.ErrNotFound, msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", datastore.ErrForbidden, msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", datastore.ErrInvalidInput, msg)
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", datastore.ErrUnavailable, resp.StatusCode, msg)
	}
}

func readErrorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var decoded errorBody
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(raw))
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
