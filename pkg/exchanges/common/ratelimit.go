package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests and tracks the weight a venue
// reports back in response headers.
type RateLimiter struct {
	name          string
	pacer         *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter allowing rps requests per second, with
// limit being the venue's weight budget per resetInterval.
func NewRateLimiter(name string, rps float64, limit int, resetInterval time.Duration) *RateLimiter {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		name:          name,
		pacer:         rate.NewLimiter(rate.Limit(rps), burst),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until the next request may be sent. When the reported weight
// is close to the budget it also waits out the rest of the window.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.ShouldDelay() {
		rl.mu.RLock()
		remaining := rl.resetInterval - time.Since(rl.lastReset)
		rl.mu.RUnlock()
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remaining):
			}
		}
	}
	return rl.pacer.Wait(ctx)
}

// UpdateFromHeader updates the used weight from an API response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}

	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	entry := logrus.WithFields(logrus.Fields{
		"component": "ratelimit",
		"exchange":  rl.name,
		"used":      rl.usedWeight,
		"limit":     rl.limit,
	})
	if percentage >= 95 {
		entry.Error("rate limit critical, approaching ban threshold")
	} else if percentage >= 80 {
		entry.Warn("rate limit warning")
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}

	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
