package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/http/requestutil"
	"github.com/preston-bernstein/livescore-service/internal/logging"
)

const defaultCleanupInterval = 5 * time.Minute

// RateLimitConfig sizes the per-caller token buckets for write requests.
type RateLimitConfig struct {
	PerSecond       float64
	Burst           int
	CleanupInterval time.Duration
}

type callerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles writes per caller. Callers are keyed by identity, or
// by client address when anonymous.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*callerLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts a limiter and its cleanup loop. A non-positive rate
// disables limiting.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limit:    rate.Limit(cfg.PerSecond),
		burst:    burst,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*callerLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware limits POST, PUT, PATCH and DELETE requests. Reads pass through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.limit <= 0 || !isWrite(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		key := callerKey(r)
		if !rl.limiterFor(key).Allow() {
			logging.Warn(logging.FromContext(r.Context(), rl.logger), "rate limit exceeded", "caller", key)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.limit)))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len reports how many callers currently hold a bucket.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastAccess = rl.now()
	return cl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops buckets idle for more than two intervals.
func (rl *RateLimiter) cleanup() {
	ttl := 2 * rl.interval
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

func callerKey(r *http.Request) string {
	var userID string
	if identity := auth.IdentityFromContext(r.Context()); identity != nil {
		userID = identity.ID
	}
	return requestutil.CallerKey(r, userID)
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// retryAfterSeconds is the time for one token to refill, at least a second.
func retryAfterSeconds(limit rate.Limit) int {
	secs := int(math.Ceil(1.0 / float64(limit)))
	if secs < 1 {
		secs = 1
	}
	return secs
}
