package security

import (
	"testing"
	"time"

	"github.com/raaihank/mailguard/internal/config"
)

func TestRateLimiter(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
		for i := 0; i < 10; i++ {
			if !rl.Allow("10.0.0.1") {
				t.Fatal("Disabled limiter rejected a request")
			}
		}
		if rl.ActiveClients() != 0 {
			t.Error("Disabled limiter should not track clients")
		}
	})

	t.Run("BurstThenReject", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 3})
		rl.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			if !rl.Allow("10.0.0.1") {
				t.Fatalf("Request %d within burst was rejected", i+1)
			}
		}
		if rl.Allow("10.0.0.1") {
			t.Error("Request beyond burst was allowed")
		}
		if !rl.Allow("10.0.0.2") {
			t.Error("Other client should have its own bucket")
		}

		// 60 per minute refills one token per second
		now = now.Add(time.Second)
		if !rl.Allow("10.0.0.1") {
			t.Error("Token was not refilled after one second")
		}
	})

	t.Run("CleanupIdle", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 5, IdleTimeout: time.Minute})
		rl.now = func() time.Time { return now }

		rl.Allow("old")
		now = now.Add(2 * time.Minute)
		rl.Allow("fresh")

		if removed := rl.CleanupIdle(); removed != 1 {
			t.Errorf("Expected 1 idle client removed, got %d", removed)
		}
		if rl.ActiveClients() != 1 {
			t.Errorf("Expected 1 active client, got %d", rl.ActiveClients())
		}
	})
}
