package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStateSingleUse(t *testing.T) {
	_, client := newTestClient(t)
	store := NewStateStore(client, "tk")
	ctx := context.Background()

	state, err := store.Issue(ctx, "google", 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	provider, err := store.Consume(ctx, state)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if provider != "google" {
		t.Fatalf("expected provider binding, got %q", provider)
	}

	if _, err := store.Consume(ctx, state); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound on replay, got %v", err)
	}
}

func TestStateUnknown(t *testing.T) {
	_, client := newTestClient(t)
	store := NewStateStore(client, "tk")

	if _, err := store.Consume(context.Background(), "never-issued"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestStateExpires(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewStateStore(client, "tk")
	ctx := context.Background()

	state, err := store.Issue(ctx, "github", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Consume(ctx, state); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound after expiry, got %v", err)
	}
}
