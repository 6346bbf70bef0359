package mutation

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned before any data store call when the
	// current profile may not perform the mutation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRemoteWriteFailed matches every *RemoteWriteError.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	// ErrInvalidArgument is returned for a side, status or new match that
	// cannot be written.
	ErrInvalidArgument = errors.New("invalid argument")
)

// RemoteWriteError carries the data store failure of a rejected write. The
// cache is left untouched when it is returned.
type RemoteWriteError struct {
	Op      string
	MatchID string
	Err     error
}

func (e *RemoteWriteError) Error() string {
	if e.MatchID == "" {
		return fmt.Sprintf("%s: %s: %v", ErrRemoteWriteFailed, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrRemoteWriteFailed, e.Op, e.MatchID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRemoteWriteFailed) match.
func (e *RemoteWriteError) Is(target error) bool {
	return target == ErrRemoteWriteFailed
}

// AsRemoteWriteError extracts a RemoteWriteError when present.
func AsRemoteWriteError(err error) (*RemoteWriteError, bool) {
	var rwe *RemoteWriteError
	if errors.As(err, &rwe) {
		return rwe, true
	}
	return nil, false
}
