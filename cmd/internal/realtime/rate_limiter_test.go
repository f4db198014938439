package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	base := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * 10 * time.Millisecond)) {
			t.Fatalf("event %d within budget was denied", i)
		}
	}
	if rl.Allow(base.Add(40 * time.Millisecond)) {
		t.Fatalf("fourth event inside the window was allowed")
	}

	// Once the first events age out the budget frees up.
	if !rl.Allow(base.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after window expiry was denied")
	}
}

func TestRateLimiter_DefaultsOnInvalidInput(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if !rl.Allow(time.Now()) {
		t.Fatalf("defaulted limiter denied the first event")
	}
}
