package security

import (
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	if !rl.Allow("ip-1") {
		t.Error("first request should pass")
	}
	if !rl.Allow("ip-1") {
		t.Error("second request should pass (burst)")
	}
	if rl.Allow("ip-1") {
		t.Error("third request should be limited")
	}
}

func TestRateLimiter_PerIdentifier(t *testing.T) {
	rl := NewRateLimiter(0.1, 1, nil)
	defer rl.Stop()

	if !rl.Allow("ip-1") {
		t.Error("ip-1 first request should pass")
	}
	if rl.Allow("ip-1") {
		t.Error("ip-1 second request should be limited")
	}
	// A different identifier has its own bucket
	if !rl.Allow("ip-2") {
		t.Error("ip-2 first request should pass")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(100, 1, nil)
	defer rl.Stop()

	if !rl.Allow("ip-1") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("ip-1") {
		t.Fatal("second immediate request should be limited")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("ip-1") {
		t.Error("request after refill window should pass")
	}
}

func TestRateLimiter_Len(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a")

	if got := rl.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop() // must not panic
}
