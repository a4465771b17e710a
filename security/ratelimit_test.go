package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("192.0.2.1") {
			t.Fatalf("request %d within burst was denied", i)
		}
	}
	if rl.Allow("192.0.2.1") {
		t.Error("request over burst was allowed")
	}

	// Separate identifiers have separate budgets
	if !rl.Allow("192.0.2.2") {
		t.Error("fresh identifier was denied")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(100, 1, nil)
	defer rl.Stop()

	if !rl.Allow("192.0.2.1") {
		t.Fatal("first request denied")
	}
	if rl.Allow("192.0.2.1") {
		t.Fatal("second immediate request allowed with burst 1")
	}

	time.Sleep(50 * time.Millisecond) // 100 rps refills well within this
	if !rl.Allow("192.0.2.1") {
		t.Error("request after refill was denied")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("192.0.2.%d", i))
	}

	if got := rl.Len(); got != 3 {
		t.Errorf("Len() = %d, want capped at 3", got)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("192.0.2.1")
	rl.Allow("192.0.2.2")

	rl.Cleanup(0) // everything is idle relative to a zero threshold

	if got := rl.Len(); got != 0 {
		t.Errorf("Len() after cleanup = %d, want 0", got)
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
