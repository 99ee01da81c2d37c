// Package ratelimit spaces out requests to the same origin host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Isagog/copertinefull/internal/metrics"
)

// Limiter enforces a fixed minimum interval between requests per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
}

// Config holds rate limiter configuration.
type Config struct {
	// Interval is the minimum spacing between two requests to the same host.
	// Zero disables limiting.
	Interval time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	every := rate.Inf
	if cfg.Interval > 0 {
		every = rate.Every(cfg.Interval)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
	}
}

// Wait blocks until the next request to rawURL's host may start, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.every, 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
