package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiter_FixedWindow(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 20, Window: 60 * time.Second, Enabled: true})

	for i := 0; i < 20; i++ {
		if d := limiter.Check("user-1"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	// 21st request within the window is rejected with a retry hint.
	d := limiter.Check("user-1")
	if d.Allowed {
		t.Fatal("21st request should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 60*time.Second {
		t.Errorf("RetryAfter = %v, want (0s, 60s]", d.RetryAfter)
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 2, Window: 60 * time.Second, Enabled: true})
	current := time.Unix(1000, 0)
	limiter.now = func() time.Time { return current }

	limiter.Check("u")
	limiter.Check("u")
	if limiter.Check("u").Allowed {
		t.Fatal("should be denied after exhausting window quota")
	}

	current = current.Add(61 * time.Second)
	if !limiter.Check("u").Allowed {
		t.Error("should be allowed after window rolls over")
	}
}

func TestLimiter_PerKeyIsolation(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 1, Window: time.Minute, Enabled: true})

	if !limiter.Check("a").Allowed {
		t.Fatal("first request for key a should pass")
	}
	if limiter.Check("a").Allowed {
		t.Fatal("second request for key a should be denied")
	}
	if !limiter.Check("b").Allowed {
		t.Error("key b must not share key a's quota")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 1, Window: time.Minute, Enabled: false})
	for i := 0; i < 100; i++ {
		if !limiter.Check("u").Allowed {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestLimiter_ManyKeys(t *testing.T) {
	limiter := NewLimiter(Config{Requests: 5, Window: time.Minute, Enabled: true})
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("user-%d", i)
		if !limiter.Check(key).Allowed {
			t.Fatalf("fresh key %s should be allowed", key)
		}
	}
}
