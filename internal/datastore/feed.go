package datastore

import (
	"fmt"
	"sync"
)

const defaultFeedBuffer = 64

// Feed is a Subscription backed by a buffered channel. Backends publish into
// it from their own goroutines.
type Feed struct {
	mu      sync.Mutex
	ch      chan Event
	done    chan struct{}
	closed  bool
	err     error
	onClose func()
}

// NewFeed returns an open Feed. onClose runs once when the consumer calls Close.
func NewFeed(buffer int, onClose func()) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	return &Feed{
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Events returns the ordered event stream.
func (f *Feed) Events() <-chan Event {
	return f.ch
}

// Done is closed when the feed ends for any reason.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Err returns the reason the feed failed, or nil.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Publish delivers ev without blocking. A consumer that falls behind by more
// than the buffer is failed with ErrTransportInterrupted rather than losing
// events silently. It returns false once the feed has ended.
func (f *Feed) Publish(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- ev:
		return true
	default:
		f.endLocked(fmt.Errorf("%w: subscriber fell behind", ErrTransportInterrupted))
		return false
	}
}

// Fail ends the feed with err. The backend is expected to have already
// forgotten the feed, so onClose is not called.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if err == nil {
		err = ErrTransportInterrupted
	}
	f.endLocked(err)
}

// Close unsubscribes. It is safe to call more than once.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.endLocked(nil)
	onClose := f.onClose
	f.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

func (f *Feed) endLocked(err error) {
	f.closed = true
	f.err = err
	close(f.ch)
	close(f.done)
}
