package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweetpotato0/regulatory-rag/middleware"
	"golang.org/x/time/rate"
)

func TestRateLimiterAdmitsBurst(t *testing.T) {
	rl := New(0.001, 2)
	calls := 0
	for i := 0; i < 2; i++ {
		ctx := middleware.NewContext(context.Background(), "retrieval", "q", "run")
		if err := rl.Execute(ctx, func(*middleware.Context) error { calls++; return nil }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRateLimiterHonoursDeadline(t *testing.T) {
	rl := NewWithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1))
	noop := func(*middleware.Context) error { return nil }
	if err := rl.Execute(middleware.NewContext(context.Background(), "retrieval", "q", "run"), noop); err != nil {
		t.Fatalf("first call: %v", err)
	}

	deadline, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	called := false
	err := rl.Execute(middleware.NewContext(deadline, "citation", "q", "run"), func(*middleware.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, middleware.ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	if called {
		t.Fatal("stage must not run without a token")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := New(0, 0)
	for i := 0; i < 100; i++ {
		if err := rl.Execute(middleware.NewContext(context.Background(), "risk_assessment", "q", "run"), func(*middleware.Context) error { return nil }); err != nil {
			t.Fatalf("unlimited limiter rejected call %d: %v", i, err)
		}
	}
	if rl.Name() != "RateLimiter" {
		t.Fatal("unexpected name")
	}
}
