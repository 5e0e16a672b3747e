package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket_Allow(t *testing.T) {
	bucket := NewTokenBucket(5, 1) // 5 capacity, 1 refill per second

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if bucket.Allow() {
		t.Error("6th request should be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("Request after refill should be allowed")
	}
}

func TestTokenBucket_AllowN(t *testing.T) {
	bucket := NewTokenBucket(10, 2)

	if !bucket.AllowN(10) {
		t.Error("AllowN(10) should be allowed")
	}

	if bucket.AllowN(1) {
		t.Error("AllowN(1) should be denied after consuming all tokens")
	}

	time.Sleep(1100 * time.Millisecond)

	if !bucket.AllowN(2) {
		t.Error("AllowN(2) should be allowed after refill")
	}
}

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(2, 1)

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Error("first two requests for u1 should be allowed")
	}
	if rl.Allow("u1") {
		t.Error("third request for u1 should be denied")
	}

	// Other users are unaffected.
	if !rl.Allow("u2") {
		t.Error("u2 should have a fresh bucket")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	if !rl.Allow("u1") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("u1") {
		t.Fatal("second request should be limited")
	}

	rl.Reset("u1")

	if !rl.Allow("u1") {
		t.Error("request after reset should pass")
	}
}
