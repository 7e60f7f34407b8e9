package credkit

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPasswordResetFlow(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	acc := f.register(t, "user@example.com", "correct horse battery")

	res, err := f.engine.Login(ctx, "user@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := f.engine.InitiatePasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset error: %v", err)
	}
	tok := f.dispatcher.lastReset(t)

	updated, err := f.engine.CompletePasswordReset(ctx, tok, "my next password")
	if err != nil {
		t.Fatalf("CompletePasswordReset error: %v", err)
	}
	if updated.ID != acc.ID {
		t.Fatalf("wrong account: %q", updated.ID)
	}

	// Only the new password works, and every session is gone.
	if _, err := f.engine.Login(ctx, "user@example.com", "correct horse battery"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := f.engine.Login(ctx, "user@example.com", "my next password"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestPasswordResetTokenIsSingleUse(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	f.register(t, "user@example.com", "correct horse battery")

	if err := f.engine.InitiatePasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset error: %v", err)
	}
	tok := f.dispatcher.lastReset(t)

	if _, err := f.engine.CompletePasswordReset(ctx, tok, "my next password"); err != nil {
		t.Fatalf("CompletePasswordReset error: %v", err)
	}
	if _, err := f.engine.CompletePasswordReset(ctx, tok, "yet another password"); !errors.Is(err, ErrResetTokenConsumed) {
		t.Fatalf("expected ErrResetTokenConsumed, got %v", err)
	}
}

func TestPasswordResetUnknownToken(t *testing.T) {
	f := newTestEngine(t)
	if _, err := f.engine.CompletePasswordReset(context.Background(), "garbage", "my next password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestPasswordResetPolicyDoesNotBurnToken(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	f.register(t, "user@example.com", "correct horse battery")

	if err := f.engine.InitiatePasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset error: %v", err)
	}
	tok := f.dispatcher.lastReset(t)

	if _, err := f.engine.CompletePasswordReset(ctx, tok, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	// The typo'd attempt left the token redeemable.
	if _, err := f.engine.CompletePasswordReset(ctx, tok, "my next password"); err != nil {
		t.Fatalf("CompletePasswordReset error: %v", err)
	}
}

func TestPasswordResetSilentOnUnknownEmail(t *testing.T) {
	f := newTestEngine(t)
	if err := f.engine.InitiatePasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected silence for unknown email, got %v", err)
	}
	if len(f.dispatcher.resetTokens) != 0 {
		t.Fatal("no token may be dispatched for unknown emails")
	}
}

func TestPasswordResetInactiveAccount(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	acc := f.register(t, "user@example.com", "correct horse battery")
	f.repo.setActive(acc.ID, false)

	if err := f.engine.InitiatePasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("expected silence for inactive account, got %v", err)
	}
	if len(f.dispatcher.resetTokens) != 0 {
		t.Fatal("no token may be dispatched for inactive accounts")
	}
}

func TestPasswordResetRequiresDispatcher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	engine, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(client).
		WithAccounts(newMemoryRepo()).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if err := engine.InitiatePasswordReset(context.Background(), "user@example.com"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
