package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Now().Add(time.Hour)) {
		t.Error("future expiry reported as expired")
	}
	if !IsExpired(time.Now().Add(-time.Hour)) {
		t.Error("past expiry reported as live")
	}
	// Within the default grace period
	if IsExpired(time.Now().Add(-2 * time.Second)) {
		t.Error("expiry within grace period reported as expired")
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	past := time.Now().Add(-10 * time.Second)

	if !IsExpiredWithGracePeriod(past, 5*time.Second) {
		t.Error("expiry past grace period reported as live")
	}
	if IsExpiredWithGracePeriod(past, 30*time.Second) {
		t.Error("expiry within grace period reported as expired")
	}
}

func TestIsExpired_ZeroMeansNever(t *testing.T) {
	if IsExpired(time.Time{}) {
		t.Error("zero expiry should mean never expires")
	}
}
