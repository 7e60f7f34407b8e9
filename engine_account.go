package credkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/croftbax/credkit/internal/stores"
	"github.com/croftbax/credkit/password"
)

// Register creates a password-credentialed account and, when a dispatcher is
// configured, sends its email-verification token. The account starts
// unverified; verification state never gates login, only whatever policy the
// caller builds on the Verified flag.
func (e *Engine) Register(ctx context.Context, email, pass string) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrAuthenticationFailed
	}
	if err := e.registerThrottle.Allow(ctx, email, e.clientIP(ctx)); err != nil {
		return nil, mapThrottleErr(err)
	}

	hash, err := e.hasher.Hash(ctx, pass)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	acc, err := e.accounts.Create(ctx, NewAccount{Email: email, PasswordHash: hash})
	if err != nil {
		return nil, err
	}

	if e.dispatcher != nil {
		if err := e.sendVerification(ctx, acc); err != nil {
			// The account exists either way; the caller can re-request.
			e.log.Warn().Err(err).Str("account", acc.ID).Msg("verification dispatch failed")
		}
	}
	return acc, nil
}

// ChangePassword verifies the current password and installs a new one. Every
// refresh-token family dies with the old password.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	acc, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.PasswordHash == "" {
		return ErrNoPasswordSet
	}

	ok, err := e.hasher.Verify(ctx, current, acc.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuthenticationFailed
	}

	hash, err := e.hasher.Hash(ctx, next)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return ErrPasswordPolicy
		}
		return err
	}
	if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	if err := e.refresh.RevokeAccount(ctx, acc.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RequestEmailVerification issues a fresh verification token for an
// unverified account and hands it to the dispatcher.
func (e *Engine) RequestEmailVerification(ctx context.Context, accountID string) error {
	if e.dispatcher == nil {
		return ErrEngineNotReady
	}
	acc, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Verified {
		return nil
	}
	return e.sendVerification(ctx, acc)
}

// ConfirmEmailVerification redeems a verification token and flips the
// account's Verified flag. Tokens are single-use.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, verificationToken string) (*Account, error) {
	rec, err := e.verifications.Consume(ctx, verificationToken)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrVerificationNotFound),
			errors.Is(err, stores.ErrVerificationMismatch):
			return nil, ErrVerificationInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	acc, err := e.accounts.FindByID(ctx, rec.AccountID)
	if err != nil {
		return nil, err
	}
	if !acc.Verified {
		verified := true
		if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{Verified: &verified}); err != nil {
			return nil, err
		}
		acc.Verified = true
	}
	return acc, nil
}

func (e *Engine) sendVerification(ctx context.Context, acc *Account) error {
	tok, expiresAt, err := e.verifications.Issue(ctx, acc.ID, e.config.Verification.TokenTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.dispatcher.SendEmailVerification(ctx, acc, tok, expiresAt)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
