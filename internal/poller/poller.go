// Package poller periodically checks a change feed and resumes it when its
// transport has dropped.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

const defaultInterval = 5 * time.Second

// Resumer restarts a feed that is down. It reports whether a restart was
// attempted; a healthy feed returns false and no error.
type Resumer interface {
	Resume(ctx context.Context) (bool, error)
}

// Poller calls Resume on an interval.
type Poller struct {
	target   Resumer
	logger   *slog.Logger
	metrics  *metrics.Recorder
	interval time.Duration
	now      func() time.Time

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	startMu  sync.Mutex
	started  bool

	statusMu sync.RWMutex
	status   Status
}

// Status describes the recent health of the poller loop.
type Status struct {
	ConsecutiveFailures int
	Restarts            int
	LastError           string
	LastAttempt         time.Time
	LastSuccess         time.Time
}

// IsReady reports whether the last check passed and restarts are not failing
// repeatedly.
func (s Status) IsReady() bool {
	if s.LastSuccess.IsZero() {
		return false
	}
	return s.ConsecutiveFailures < 3
}

// New constructs a Poller with sane defaults.
func New(target Resumer, logger *slog.Logger, recorder *metrics.Recorder, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		target:   target,
		logger:   logger,
		metrics:  recorder,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins checking until the context is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.startMu.Lock()
	if p.started {
		p.startMu.Unlock()
		return
	}
	p.started = true
	p.startMu.Unlock()

	p.ticker = time.NewTicker(p.interval)

	go func() {
		logging.Info(p.logger, "feed poller started", slog.Int64(logging.FieldDurationMS, p.interval.Milliseconds()))
		for {
			select {
			case <-ctx.Done():
				p.stopTicker()
				logging.Info(p.logger, "feed poller stopped")
				return
			case <-p.done:
				p.stopTicker()
				logging.Info(p.logger, "feed poller stopped")
				return
			case <-p.ticker.C:
				p.checkOnce(ctx)
			}
		}
	}()
}

// Stop halts the polling loop.
func (p *Poller) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.done)
		p.stopTicker()
	})
	return nil
}

func (p *Poller) checkOnce(ctx context.Context) {
	start := p.now()
	p.recordAttempt(start)
	restarted, err := p.target.Resume(ctx)
	if err != nil {
		p.metrics.RecordFeedResume("error")
		logging.Error(p.logger, "feed resume failed", err, slog.Int64(logging.FieldDurationMS, time.Since(start).Milliseconds()))
		p.recordFailure(err, start)
		return
	}
	if restarted {
		p.metrics.RecordFeedResume("ok")
		logging.Info(p.logger, "feed resumed", logging.FieldDurationMS, time.Since(start).Milliseconds())
	}
	p.recordSuccess(start, restarted)
}

func (p *Poller) stopTicker() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}

func (p *Poller) recordAttempt(at time.Time) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.status.LastAttempt = at
}

func (p *Poller) recordSuccess(at time.Time, restarted bool) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.status.ConsecutiveFailures = 0
	p.status.LastError = ""
	p.status.LastSuccess = at
	if restarted {
		p.status.Restarts++
	}
}

func (p *Poller) recordFailure(err error, at time.Time) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.status.ConsecutiveFailures++
	if err != nil {
		p.status.LastError = err.Error()
	}
	p.status.LastAttempt = at
}

// Status returns a snapshot of the poller's recent health.
func (p *Poller) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}
