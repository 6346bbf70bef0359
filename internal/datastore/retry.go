package datastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

const (
	defaultRetryAttempts = 3
	defaultBackoff       = 200 * time.Millisecond
)

// retryingStore wraps a Store with retries on reads and metrics on every call.
// Writes are attempted exactly once.
type retryingStore struct {
	inner       Store
	logger      *slog.Logger
	metrics     *metrics.Recorder
	name        string
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

// NewRetryingStore wraps inner with retries. If maxAttempts/backoff are <= 0, defaults are used.
func NewRetryingStore(inner Store, logger *slog.Logger, recorder *metrics.Recorder, name string, maxAttempts int, initial time.Duration) Store {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	if initial <= 0 {
		initial = defaultBackoff
	}
	return &retryingStore{
		inner:       inner,
		logger:      logger,
		metrics:     recorder,
		name:        name,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (r *retryingStore) FetchOne(ctx context.Context, table, id string) (Record, error) {
	return retry(ctx, r, "fetch_one", func() (Record, error) {
		return r.inner.FetchOne(ctx, table, id)
	})
}

func (r *retryingStore) FetchMany(ctx context.Context, table string, q Query) ([]Record, error) {
	return retry(ctx, r, "fetch_many", func() ([]Record, error) {
		return r.inner.FetchMany(ctx, table, q)
	})
}

func (r *retryingStore) SubscribeChanges(ctx context.Context, table string, filter Filter) (Subscription, error) {
	return retry(ctx, r, "subscribe", func() (Subscription, error) {
		return r.inner.SubscribeChanges(ctx, table, filter)
	})
}

func (r *retryingStore) Update(ctx context.Context, table, id string, fields Record) error {
	start := time.Now()
	err := r.inner.Update(ctx, table, id, fields)
	r.metrics.RecordDataStoreCall(r.name, "update", time.Since(start), err)
	return err
}

func (r *retryingStore) Insert(ctx context.Context, table string, fields Record) (Record, error) {
	start := time.Now()
	rec, err := r.inner.Insert(ctx, table, fields)
	r.metrics.RecordDataStoreCall(r.name, "insert", time.Since(start), err)
	return rec, err
}

// Unwrap exposes the wrapped store.
func (r *retryingStore) Unwrap() Store {
	return r.inner
}

func retry[T any](ctx context.Context, r *retryingStore, op string, call func() (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		start := time.Now()
		res, err := call()
		r.metrics.RecordDataStoreCall(r.name, op, time.Since(start), err)
		if err != nil && IsPermanent(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, next time.Duration) {
		r.logWarn(ctx, "data store call retry",
			logging.FieldOperation, op,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"next_ms", next.Milliseconds(),
			logging.FieldError, err,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts-1)), ctx)
	res, err := backoff.RetryNotifyWithData[T](operation, policy, notify)
	if err != nil && !IsPermanent(err) {
		r.logWarn(ctx, "data store call failed", logging.FieldOperation, op, "attempts", attempt, logging.FieldError, err)
	}
	return res, err
}

func (r *retryingStore) logWarn(ctx context.Context, msg string, args ...any) {
	logger := logging.FromContext(ctx, r.logger)
	if logger != nil {
		logger.Warn(msg, append(args, logging.FieldStore, r.name)...)
	}
}
