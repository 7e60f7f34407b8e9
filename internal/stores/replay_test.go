package stores

import (
	"context"
	"testing"
	"time"
)

func TestReplayMarkStepMonotonic(t *testing.T) {
	_, client := newTestClient(t)
	guard := NewReplayGuard(client, "tk")
	ctx := context.Background()

	fresh, err := guard.MarkStep(ctx, "acct-1", 100, time.Minute)
	if err != nil {
		t.Fatalf("MarkStep error: %v", err)
	}
	if !fresh {
		t.Fatal("first step must be fresh")
	}

	// Same step and earlier steps are spent.
	for _, step := range []int64{100, 99} {
		fresh, err := guard.MarkStep(ctx, "acct-1", step, time.Minute)
		if err != nil {
			t.Fatalf("MarkStep error: %v", err)
		}
		if fresh {
			t.Fatalf("step %d must be rejected", step)
		}
	}

	fresh, err = guard.MarkStep(ctx, "acct-1", 101, time.Minute)
	if err != nil {
		t.Fatalf("MarkStep error: %v", err)
	}
	if !fresh {
		t.Fatal("later step must be fresh")
	}
}

func TestReplayMarkStepIsPerAccount(t *testing.T) {
	_, client := newTestClient(t)
	guard := NewReplayGuard(client, "tk")
	ctx := context.Background()

	if _, err := guard.MarkStep(ctx, "acct-1", 100, time.Minute); err != nil {
		t.Fatalf("MarkStep error: %v", err)
	}
	fresh, err := guard.MarkStep(ctx, "acct-2", 100, time.Minute)
	if err != nil {
		t.Fatalf("MarkStep error: %v", err)
	}
	if !fresh {
		t.Fatal("accounts must not share step state")
	}
}

func TestReplayConsumeJTI(t *testing.T) {
	mr, client := newTestClient(t)
	guard := NewReplayGuard(client, "tk")
	ctx := context.Background()

	ok, err := guard.ConsumeJTI(ctx, "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("ConsumeJTI error: %v", err)
	}
	if !ok {
		t.Fatal("first claim must succeed")
	}

	ok, err = guard.ConsumeJTI(ctx, "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("ConsumeJTI error: %v", err)
	}
	if ok {
		t.Fatal("second claim must fail")
	}

	// The guard key only needs to outlive the token it shadows.
	mr.FastForward(2 * time.Minute)
	ok, err = guard.ConsumeJTI(ctx, "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("ConsumeJTI error: %v", err)
	}
	if !ok {
		t.Fatal("claim after expiry must succeed")
	}
}
