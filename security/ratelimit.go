package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimiterMaxEntries = 10000
	rateLimiterCleanupInterval   = 5 * time.Minute
	rateLimiterMaxIdle           = 30 * time.Minute
)

// ipLimiter is one IP's token bucket plus its last activity time
type ipLimiter struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-identifier token bucket rate limiting. The set
// of tracked identifiers is bounded: least recently seen entries are
// evicted at capacity, and a background loop drops idle ones, so an
// attacker rotating source IPs cannot grow memory without bound.
type RateLimiter struct {
	mu    sync.Mutex
	index *lruIndex

	rate   int
	burst  int
	logger *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once

	evictions int64
}

// NewRateLimiter creates a rate limiter tracking up to 10,000 identifiers
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, defaultRateLimiterMaxEntries, logger)
}

// NewRateLimiterWithConfig creates a rate limiter with a custom identifier
// capacity. maxEntries of 0 disables the bound; negative values fall back
// to the default.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Invalid maxEntries, using default", "maxEntries", defaultRateLimiterMaxEntries)
		maxEntries = defaultRateLimiterMaxEntries
	}

	rl := &RateLimiter{
		index:       newLRUIndex(maxEntries),
		rate:        requestsPerSecond,
		burst:       burst,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given identifier may proceed
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.index.touch(identifier); ok {
		lim := v.(*ipLimiter)
		lim.lastSeen = now
		return lim.bucket.Allow()
	}

	lim := &ipLimiter{
		bucket:   rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastSeen: now,
	}
	if evicted := rl.index.insert(identifier, lim); evicted != "" {
		rl.evictions++
		rl.logger.Debug("Rate limiter evicted least recently seen identifier",
			"identifier", evicted,
			"total_evictions", rl.evictions,
			"current_entries", rl.index.len())
	}

	return lim.bucket.Allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rateLimiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rateLimiterMaxIdle)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops identifiers idle for longer than maxIdleTime
func (rl *RateLimiter) Cleanup(maxIdleTime time.Duration) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := rl.index.removeIf(func(_ string, v any) bool {
		return now.Sub(v.(*ipLimiter).lastSeen) > maxIdleTime
	})

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", rl.index.len())
	}
}

// Stop terminates the cleanup goroutine. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
