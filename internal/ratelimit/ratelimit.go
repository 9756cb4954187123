// Package ratelimit implements a per-client token bucket rate limiter for
// the control API. Tokens are refilled lazily on each Allow call.
package ratelimit

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited.
	BurstSize         int // Bucket capacity. 0 = RequestsPerMinute.
}

// Limiter keeps one bucket per client key.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a rate limiter. With RequestsPerMinute 0 every call
// is allowed.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		clients: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow consumes one token for key, or returns ErrRateLimited.
func (l *Limiter) Allow(key string) error {
	_, err := l.Reserve(key)
	return err
}

// Reserve is Allow that also reports how long the caller should wait
// before retrying when the bucket is empty.
func (l *Limiter) Reserve(key string) (time.Duration, error) {
	if l == nil || l.rate <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens < 1 {
		wait := time.Duration(math.Ceil((1-b.tokens)/l.rate)) * time.Second
		return wait, ErrRateLimited
	}
	b.tokens--
	return 0, nil
}

// Prune drops buckets that have been full and idle for longer than idle.
// Returns the number removed.
func (l *Limiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.clients {
		if now.Sub(b.lastFill) > idle {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// refill must be called with l.mu held.
func (l *Limiter) refill(key string) *bucket {
	now := l.now()
	b, ok := l.clients[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.clients[key] = b
		return b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastFill).Seconds()*l.rate)
	b.lastFill = now
	return b
}
