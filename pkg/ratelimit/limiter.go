package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config defines a request budget
type Config struct {
	// Requests is the number of requests allowed per Window
	Requests int
	// Window is the refill period
	Window time.Duration
	// Burst allows temporary bursts above the rate
	Burst int
}

// DefaultConfig returns default rate limit settings
func DefaultConfig() Config {
	return Config{
		Requests: 600,
		Window:   time.Minute,
		Burst:    60,
	}
}

// Validate checks the budget is usable
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("requests per window must be positive, got %d", c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.Burst < 0 {
		return fmt.Errorf("burst cannot be negative, got %d", c.Burst)
	}
	return nil
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the budget is full again (memory) or the window ends (redis)
	Reset time.Time
}

// Limiter admits or rejects a request for a key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// MemoryLimiter implements a token bucket per key
type MemoryLimiter struct {
	config  Config
	now     func() time.Time
	buckets map[string]*bucket
	mu      sync.Mutex
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (rl *MemoryLimiter) capacity() float64 {
	return float64(rl.config.Requests + rl.config.Burst)
}

func (rl *MemoryLimiter) refillRate() float64 {
	return float64(rl.config.Requests) / rl.config.Window.Seconds()
}

// Allow takes one token from key's bucket
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastUpdate); elapsed > 0 {
		b.tokens += elapsed.Seconds() * rl.refillRate()
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	d := Decision{Limit: rl.config.Requests}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = int(b.tokens)
	missing := rl.capacity() - b.tokens
	d.Reset = now.Add(time.Duration(missing / rl.refillRate() * float64(time.Second)))
	return d, nil
}

// Cleanup removes buckets idle for more than two windows
func (rl *MemoryLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.Window*2 {
			delete(rl.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (rl *MemoryLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.Window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
