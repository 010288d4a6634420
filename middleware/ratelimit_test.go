package middleware

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(3, 1)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("0xalice", 1) {
			t.Fatalf("Expected request %d within burst to pass", i)
		}
	}
	if rl.Allow("0xalice", 1) {
		t.Errorf("Expected fourth request to be limited")
	}
	if !rl.Allow("0xbob", 1) {
		t.Errorf("Expected other clients to keep their own bucket")
	}

	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("0xalice", 1) {
		t.Errorf("Expected a refilled token after 1.5s")
	}
	if rl.Allow("0xalice", 1) {
		t.Errorf("Expected half a token to be insufficient")
	}

	now = now.Add(time.Hour)
	if !rl.Allow("0xalice", 3) || rl.Allow("0xalice", 1) {
		t.Errorf("Expected refill to cap at capacity")
	}
	if rl.Clients() != 2 {
		t.Errorf("Expected 2 tracked clients but got %d", rl.Clients())
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	if !nilLimiter.Allow("x", 100) {
		t.Errorf("Expected nil limiter to allow everything")
	}
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow("x", 1) {
			t.Fatalf("Expected disabled limiter to allow request %d", i)
		}
	}
}
