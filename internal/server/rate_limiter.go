// Package server implements a token bucket rate limiter for per-session
// throttling that protects the room from floods.
package server

import (
	"sync"
	"time"
)

// rateLimiter refills Burst tokens every RefillInterval, continuously.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	perSecond float64
	last      time.Time
	now       func() time.Time
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}

	return &rateLimiter{
		tokens:    float64(burst),
		capacity:  float64(burst),
		perSecond: float64(burst) / interval.Seconds(),
		last:      now(),
		now:       now,
	}
}

// allow takes one token if available.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	t := rl.now()
	if elapsed := t.Sub(rl.last).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.perSecond
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}
	rl.last = t

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
