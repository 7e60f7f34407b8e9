package credkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/croftbax/credkit/internal/stores"
	"github.com/croftbax/credkit/password"
)

// InitiatePasswordReset issues a single-use reset token for the account
// behind email and hands it to the dispatcher. Unknown emails succeed
// silently so the operation cannot be used to enumerate accounts.
func (e *Engine) InitiatePasswordReset(ctx context.Context, email string) error {
	if e.dispatcher == nil {
		return ErrEngineNotReady
	}

	acc, err := e.accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if !acc.Active {
		return nil
	}

	tok, expiresAt, err := e.resets.Issue(ctx, acc.ID, e.config.Reset.TokenTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.dispatcher.SendPasswordReset(ctx, acc, tok, expiresAt)
}

// CompletePasswordReset redeems a reset token and installs the new password.
// The token is consumed atomically before anything else happens, and every
// refresh-token family the account has is revoked: whoever requested the
// reset gets a world where only the new password works.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetToken, newPassword string) (*Account, error) {
	// Policy is checked before the consume so a typo'd new password does not
	// burn the token.
	if len(newPassword) < e.config.Password.MinLength {
		return nil, ErrPasswordPolicy
	}

	rec, err := e.resets.Consume(ctx, resetToken)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrResetConsumed):
			return nil, ErrResetTokenConsumed
		case errors.Is(err, stores.ErrResetExpired):
			return nil, ErrResetTokenExpired
		case errors.Is(err, stores.ErrResetNotFound),
			errors.Is(err, stores.ErrResetMismatch):
			return nil, ErrResetTokenInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	hash, err := e.hasher.Hash(ctx, newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	acc, err := e.accounts.FindByID(ctx, rec.AccountID)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		return nil, err
	}
	acc.PasswordHash = hash

	if err := e.refresh.RevokeAccount(ctx, acc.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.resetsCompleted.Add(1)
	e.log.Info().Str("account", acc.ID).Msg("password reset completed, all sessions revoked")
	return acc, nil
}
