package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestThrottleBudget(t *testing.T) {
	_, client := newTestClient(t)
	th := NewThrottle(client, "tk:th:login", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := th.Allow(ctx, "user@example.com", ""); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := th.Allow(ctx, "user@example.com", ""); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	// Budgets are per identifier.
	if err := th.Allow(ctx, "other@example.com", ""); err != nil {
		t.Fatalf("unrelated identifier throttled: %v", err)
	}
}

func TestThrottleWindowExpires(t *testing.T) {
	mr, client := newTestClient(t)
	th := NewThrottle(client, "tk:th:login", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := th.Allow(ctx, "user@example.com", ""); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := th.Allow(ctx, "user@example.com", ""); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := th.Allow(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("attempt after window: %v", err)
	}
}

func TestThrottleChargesIPSeparately(t *testing.T) {
	_, client := newTestClient(t)
	th := NewThrottle(client, "tk:th:login", 2, time.Minute)
	ctx := context.Background()

	// Two identifiers behind one address exhaust the address budget.
	if err := th.Allow(ctx, "a@example.com", "10.0.0.9"); err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if err := th.Allow(ctx, "b@example.com", "10.0.0.9"); err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if err := th.Allow(ctx, "c@example.com", "10.0.0.9"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled on IP budget, got %v", err)
	}
	if err := th.Allow(ctx, "c@example.com", "10.0.0.10"); err != nil {
		t.Fatalf("fresh address throttled: %v", err)
	}
}

func TestThrottleReset(t *testing.T) {
	_, client := newTestClient(t)
	th := NewThrottle(client, "tk:th:login", 1, time.Minute)
	ctx := context.Background()

	if err := th.Allow(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if err := th.Reset(ctx, "user@example.com"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if err := th.Allow(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("Allow after reset: %v", err)
	}
}

func TestThrottleNilIsDisabled(t *testing.T) {
	th := NewThrottle(nil, "tk:th:login", 0, time.Minute)
	if th != nil {
		t.Fatal("zero budget must produce a nil throttle")
	}
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := th.Allow(ctx, "user@example.com", "10.0.0.9"); err != nil {
			t.Fatalf("nil throttle must allow: %v", err)
		}
	}
	if err := th.Reset(ctx, "user@example.com"); err != nil {
		t.Fatalf("nil throttle Reset: %v", err)
	}
}

func TestTwoFactorLockout(t *testing.T) {
	_, client := newTestClient(t)
	lim := NewTwoFactorLimiter(client, "tk", TwoFactorLimiterConfig{Threshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	if err := lim.Check(ctx, "acct-1"); err != nil {
		t.Fatalf("Check error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := lim.RecordFailure(ctx, "acct-1"); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}
	if err := lim.RecordFailure(ctx, "acct-1"); !errors.Is(err, ErrTwoFactorLocked) {
		t.Fatalf("expected lock on threshold, got %v", err)
	}
	if err := lim.Check(ctx, "acct-1"); !errors.Is(err, ErrTwoFactorLocked) {
		t.Fatalf("expected locked Check, got %v", err)
	}
}

func TestTwoFactorCooldownExpires(t *testing.T) {
	mr, client := newTestClient(t)
	lim := NewTwoFactorLimiter(client, "tk", TwoFactorLimiterConfig{Threshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	lim.RecordFailure(ctx, "acct-1")
	if err := lim.RecordFailure(ctx, "acct-1"); !errors.Is(err, ErrTwoFactorLocked) {
		t.Fatalf("expected lock, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := lim.Check(ctx, "acct-1"); err != nil {
		t.Fatalf("Check after cooldown: %v", err)
	}
}

func TestTwoFactorResetClearsCounter(t *testing.T) {
	_, client := newTestClient(t)
	lim := NewTwoFactorLimiter(client, "tk", TwoFactorLimiterConfig{Threshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	lim.RecordFailure(ctx, "acct-1")
	if err := lim.Reset(ctx, "acct-1"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if err := lim.RecordFailure(ctx, "acct-1"); err != nil {
		t.Fatalf("failure after reset must not lock: %v", err)
	}
}
