package security

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxRegistrationsPerHour caps client registrations per IP per window
	DefaultMaxRegistrationsPerHour = 10

	// DefaultRegistrationWindow is the sliding window for registration limiting
	DefaultRegistrationWindow = time.Hour

	// DefaultMaxRegistrationEntries bounds the number of tracked IPs
	DefaultMaxRegistrationEntries = 10000

	registrationCleanupInterval = 15 * time.Minute
)

// registrationHistory holds one IP's registration timestamps inside the
// sliding window
type registrationHistory struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// ClientRegistrationRateLimiter enforces a sliding-window cap on client
// registrations per IP. Registration creates persistent state (a client
// record, a bcrypt hash), so it gets a much tighter limit than ordinary
// request rate limiting.
type ClientRegistrationRateLimiter struct {
	mu    sync.Mutex
	index *lruIndex

	maxPerWindow int
	window       time.Duration
	logger       *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once

	blocked int64
}

// NewClientRegistrationRateLimiter creates a limiter with the default
// 10-per-hour cap.
func NewClientRegistrationRateLimiter(logger *slog.Logger) *ClientRegistrationRateLimiter {
	return NewClientRegistrationRateLimiterWithConfig(
		DefaultMaxRegistrationsPerHour,
		DefaultRegistrationWindow,
		DefaultMaxRegistrationEntries,
		logger,
	)
}

// NewClientRegistrationRateLimiterWithConfig creates a limiter with a
// custom cap, window, and tracked-IP bound. Non-positive values fall back
// to the defaults.
func NewClientRegistrationRateLimiterWithConfig(maxPerWindow int, window time.Duration, maxEntries int, logger *slog.Logger) *ClientRegistrationRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerWindow <= 0 {
		logger.Warn("Invalid maxPerWindow, using default", "default", DefaultMaxRegistrationsPerHour)
		maxPerWindow = DefaultMaxRegistrationsPerHour
	}
	if window <= 0 {
		logger.Warn("Invalid window, using default", "default", DefaultRegistrationWindow)
		window = DefaultRegistrationWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxRegistrationEntries
	}

	rl := &ClientRegistrationRateLimiter{
		index:        newLRUIndex(maxEntries),
		maxPerWindow: maxPerWindow,
		window:       window,
		logger:       logger,
		stopCleanup:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	logger.Info("Client registration rate limiter initialized",
		"max_per_window", maxPerWindow,
		"window", window,
		"max_entries", maxEntries)

	return rl
}

// Allow records a registration attempt from ip and reports whether it is
// within the window cap.
func (rl *ClientRegistrationRateLimiter) Allow(ip string) bool {
	now := time.Now()
	windowStart := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.index.touch(ip)
	if !ok {
		hist := &registrationHistory{
			timestamps: []time.Time{now},
			lastSeen:   now,
		}
		if evicted := rl.index.insert(ip, hist); evicted != "" {
			rl.logger.Debug("Registration limiter evicted least recently seen IP",
				"ip", evicted,
				"current_entries", rl.index.len())
		}
		return true
	}

	hist := v.(*registrationHistory)
	hist.lastSeen = now

	// Drop timestamps that slid out of the window, in place
	n := 0
	for _, t := range hist.timestamps {
		if t.After(windowStart) {
			hist.timestamps[n] = t
			n++
		}
	}
	hist.timestamps = hist.timestamps[:n]

	if len(hist.timestamps) >= rl.maxPerWindow {
		rl.blocked++
		rl.logger.Warn("Client registration rate limit exceeded",
			"ip", ip,
			"registrations_in_window", len(hist.timestamps),
			"max_per_window", rl.maxPerWindow,
			"window", rl.window,
			"total_blocked", rl.blocked)
		return false
	}

	hist.timestamps = append(hist.timestamps, now)
	return true
}

func (rl *ClientRegistrationRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(registrationCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops IPs idle for more than two windows
func (rl *ClientRegistrationRateLimiter) Cleanup() {
	now := time.Now()
	maxIdle := rl.window * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := rl.index.removeIf(func(_ string, v any) bool {
		return now.Sub(v.(*registrationHistory).lastSeen) > maxIdle
	})

	if removed > 0 {
		rl.logger.Debug("Registration limiter cleanup completed",
			"removed", removed,
			"remaining", rl.index.len())
	}
}

// Stop terminates the cleanup goroutine. Safe to call multiple times.
func (rl *ClientRegistrationRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
