package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/croftbax/credkit/internal"
)

func TestVerificationConsumeDeletesRecord(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewVerificationStore(client, "tk")
	ctx := context.Background()

	token, _, err := store.Issue(ctx, "acct-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	rec, err := store.Consume(ctx, token)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if rec.AccountID != "acct-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(mr.Keys()) != 0 {
		t.Fatal("record must be deleted on use")
	}

	if _, err := store.Consume(ctx, token); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound, got %v", err)
	}
}

func TestVerificationConsumeWrongSecretKeepsRecord(t *testing.T) {
	_, client := newTestClient(t)
	store := NewVerificationStore(client, "tk")
	ctx := context.Background()

	token, _, err := store.Issue(ctx, "acct-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	id, _, _ := internal.DecodeOpaque(token)
	wrongSecret, _ := internal.NewSecret()

	if _, err := store.Consume(ctx, internal.EncodeOpaque(id, wrongSecret)); !errors.Is(err, ErrVerificationMismatch) {
		t.Fatalf("expected ErrVerificationMismatch, got %v", err)
	}
	if _, err := store.Consume(ctx, token); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
}

func TestVerificationConsumeExpiredStamp(t *testing.T) {
	_, client := newTestClient(t)
	store := NewVerificationStore(client, "tk")
	ctx := context.Background()

	id, _ := internal.NewTokenID()
	secret, _ := internal.NewSecret()
	rec := VerificationRecord{
		AccountID:  "acct-1",
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  time.Now().Add(-time.Minute).Unix(),
	}
	if err := client.Set(ctx, store.key(id), encodeVerificationRecord(&rec), time.Minute).Err(); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	if _, err := store.Consume(ctx, internal.EncodeOpaque(id, secret)); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound, got %v", err)
	}
}
