// Package middleware holds HTTP middleware shared by the ledger API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// IdentityHeader carries the caller's agent identity. Authentication happens
// in front of the ledger; the header is trusted as given.
const IdentityHeader = "X-Agent-Identity"

// RateLimiter enforces a per-caller request budget over one-minute windows.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*rateLimitWindow
	defaults RateLimitConfig
	now      func() time.Time
	logger   *slog.Logger
}

type RateLimitConfig struct {
	MaxCallsPerMinute int
}

type rateLimitWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if cfg.MaxCallsPerMinute <= 0 {
		cfg.MaxCallsPerMinute = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		windows:  make(map[string]*rateLimitWindow),
		defaults: cfg,
		now:      time.Now,
		logger:   logger.With("component", "ratelimit"),
	}
}

// Allow counts one request for key and reports whether it is within budget.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, ok := rl.windows[key]
	if !ok || now.Sub(window.windowStart) > time.Minute {
		rl.windows[key] = &rateLimitWindow{count: 1, windowStart: now}
		return true
	}
	window.count++
	if window.count > rl.defaults.MaxCallsPerMinute {
		if window.count == rl.defaults.MaxCallsPerMinute+1 {
			rl.logger.Warn("[RateLimit] Limit exceeded", "key", key, "limit", rl.defaults.MaxCallsPerMinute)
		}
		return false
	}
	return true
}

// Middleware rejects requests over budget with 429. Callers without an
// identity share the "anonymous" budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdentityHeader)
		if key == "" {
			key = "anonymous"
		}
		if !rl.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":"rate_limited","error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup drops expired windows every interval until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	removed := 0
	for key, window := range rl.windows {
		if now.Sub(window.windowStart) > 2*time.Minute {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}
