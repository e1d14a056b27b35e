package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTokenBucket(t *testing.T) {
	mock := clock.NewMock()
	bucket := newTokenBucket(mock, 2, 5) // 2 tokens per second, capacity of 5

	// Initial tokens should be at capacity
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}

	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	mock.Add(1100 * time.Millisecond)

	// Should have 2 tokens available now
	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestTokenBucketCapsRefill(t *testing.T) {
	mock := clock.NewMock()
	bucket := newTokenBucket(mock, 10, 3)
	for i := 0; i < 3; i++ {
		bucket.Allow()
	}
	mock.Add(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if bucket.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected refill capped at capacity 3, got %d", allowed)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewWithClock(clock.NewMock(), 0, 2, 3) // global disabled; per-client 2 conn/s, burst 3

	client := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !rl.AllowConnection(client) {
			t.Errorf("Expected connection %d to be allowed for client %s", i, client)
		}
	}
	if rl.AllowConnection(client) {
		t.Error("Expected connection to be denied due to per-client limit")
	}

	// Different client should have separate limits
	if !rl.AllowConnection("10.0.0.2") {
		t.Error("Expected connection to be allowed for different client")
	}
	if rl.Clients() != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", rl.Clients())
	}
}

func TestRateLimiterWithGlobalLimits(t *testing.T) {
	rl := NewWithClock(clock.NewMock(), 2, 0, 2) // global 2 conn/s; per-client disabled; burst 2

	if !rl.AllowConnection("a") {
		t.Error("Expected first global connection to be allowed")
	}
	if !rl.AllowConnection("b") {
		t.Error("Expected second global connection to be allowed")
	}
	if rl.AllowConnection("a") {
		t.Error("Expected connection to be denied due to global limit")
	}
	if rl.Clients() != 0 {
		t.Errorf("Expected no per-client buckets, got %d", rl.Clients())
	}
}

func TestRateLimiterSweep(t *testing.T) {
	mock := clock.NewMock()
	rl := NewWithClock(mock, 0, 1, 1)

	rl.AllowConnection("client1")
	rl.AllowConnection("client2")
	if rl.Clients() != 2 {
		t.Fatalf("Expected 2 limiters, got %d", rl.Clients())
	}

	mock.Add(30 * time.Second)
	rl.AllowConnection("client1")
	mock.Add(45 * time.Second)

	if n := rl.Sweep(time.Minute); n != 1 {
		t.Errorf("Expected 1 limiter swept, got %d", n)
	}
	if rl.Clients() != 1 {
		t.Errorf("Expected 1 limiter after sweep, got %d", rl.Clients())
	}
	if _, exists := rl.perClient["client1"]; !exists {
		t.Error("Expected client1 limiter to remain")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, 5)
	if rl.Enabled() {
		t.Error("Expected limiter with zero rates to be disabled")
	}
	for i := 0; i < 100; i++ {
		if !rl.AllowConnection("client") {
			t.Errorf("Expected connection %d to be allowed when limits disabled", i)
		}
	}
}
