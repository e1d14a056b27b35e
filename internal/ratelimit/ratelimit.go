package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return newTokenBucket(clock.New(), rate, capacity)
}

func newTokenBucket(clk clock.Clock, rate, capacity int) *TokenBucket {
	now := clk.Now()
	return &TokenBucket{
		clock:      clk,
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow checks if a request can be allowed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.lastUsed = now
	elapsed := now.Sub(tb.lastRefill)

	// Whole tokens only; the fraction carries over until the next call.
	tokensToAdd := int(elapsed.Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// RateLimiter limits new connections globally and per client address.
type RateLimiter struct {
	mu                sync.Mutex
	clock             clock.Clock
	globalConnLimiter *TokenBucket
	perClient         map[string]*TokenBucket
	connRate          int
	burstSize         int
}

// NewRateLimiter creates a limiter; a zero rate disables that limit.
func NewRateLimiter(globalConnLimit, perClientConnLimit, burstSize int) *RateLimiter {
	return NewWithClock(clock.New(), globalConnLimit, perClientConnLimit, burstSize)
}

// NewWithClock is NewRateLimiter with an injectable clock.
func NewWithClock(clk clock.Clock, globalConnLimit, perClientConnLimit, burstSize int) *RateLimiter {
	if burstSize <= 0 {
		burstSize = 1
	}
	rl := &RateLimiter{
		clock:     clk,
		perClient: make(map[string]*TokenBucket),
		connRate:  perClientConnLimit,
		burstSize: burstSize,
	}
	if globalConnLimit > 0 {
		rl.globalConnLimiter = newTokenBucket(clk, globalConnLimit, burstSize)
	}
	return rl
}

// Enabled reports whether any limit is active.
func (rl *RateLimiter) Enabled() bool {
	return rl.globalConnLimiter != nil || rl.connRate > 0
}

// AllowConnection checks if a connection is allowed for the given client
func (rl *RateLimiter) AllowConnection(client string) bool {
	if rl.globalConnLimiter != nil && !rl.globalConnLimiter.Allow() {
		return false
	}
	if rl.connRate <= 0 {
		return true
	}
	rl.mu.Lock()
	bucket, exists := rl.perClient[client]
	if !exists {
		bucket = newTokenBucket(rl.clock, rl.connRate, rl.burstSize)
		rl.perClient[client] = bucket
	}
	rl.mu.Unlock()
	return bucket.Allow()
}

// Sweep drops per-client buckets unused for maxIdle and returns how many
// were removed.
func (rl *RateLimiter) Sweep(maxIdle time.Duration) int {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for client, b := range rl.perClient {
		if now.Sub(b.idleSince()) >= maxIdle {
			delete(rl.perClient, client)
			removed++
		}
	}
	return removed
}

// Clients is the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.perClient)
}
