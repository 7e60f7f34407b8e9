package credkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/croftbax/credkit/internal/limiters"
	"github.com/croftbax/credkit/token"
)

// SetupTwoFactor provisions a fresh TOTP secret for the account. The secret
// is stored sealed but two-factor stays disabled until VerifyTwoFactorSetup
// proves the authenticator actually holds it. Re-running setup before the
// proof replaces the pending secret.
func (e *Engine) SetupTwoFactor(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if !e.config.twoFactorReady() {
		return nil, ErrEngineNotReady
	}
	acc, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, url, err := e.totp.generate(acc.Email)
	if err != nil {
		return nil, err
	}
	sealed, err := e.totp.seal(secret)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{TwoFactorSecret: &sealed}); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: secret, ProvisioningURL: url}, nil
}

// VerifyTwoFactorSetup confirms a code from the authenticator and enables
// two-factor for the account. From the next login on, full grants require
// the second factor.
func (e *Engine) VerifyTwoFactorSetup(ctx context.Context, accountID, code string) error {
	acc, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if len(acc.TwoFactorSecret) == 0 {
		return ErrTwoFactorNotEnabled
	}

	if err := e.checkCode(ctx, acc, code); err != nil {
		return err
	}

	enabled := true
	if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{TwoFactorEnabled: &enabled}); err != nil {
		return err
	}
	e.log.Info().Str("account", acc.ID).Msg("two-factor enabled")
	return nil
}

// DisableTwoFactor turns the second factor off. A valid current code is
// required so a hijacked session cannot silently weaken the account.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	acc, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !acc.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if err := e.checkCode(ctx, acc, code); err != nil {
		return err
	}

	disabled := false
	var noSecret []byte
	if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{
		TwoFactorEnabled: &disabled,
		TwoFactorSecret:  &noSecret,
	}); err != nil {
		return err
	}
	e.log.Info().Str("account", acc.ID).Msg("two-factor disabled")
	return nil
}

// ValidateTwoFactorLogin upgrades a partial grant to a full one. The partial
// token is single-use: its jti is consumed atomically, so even a captured
// partial token plus a shoulder-surfed code cannot be replayed.
func (e *Engine) ValidateTwoFactorLogin(ctx context.Context, partialToken, code string) (*TokenPair, error) {
	claims, err := e.verifyToken(partialToken)
	if err != nil {
		return nil, err
	}
	if claims.Scope != token.ScopePartial {
		return nil, ErrInsufficientScope
	}

	acc, err := e.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, ErrAccountInactive
	}
	if !acc.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if err := e.checkCode(ctx, acc, code); err != nil {
		return nil, err
	}

	remaining := time.Until(claims.ExpiresAt.Time) + e.config.Token.Leeway
	fresh, err := e.replay.ConsumeJTI(ctx, claims.ID, remaining)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !fresh {
		return nil, ErrTokenInvalid
	}

	e.metrics.stepUpsPassed.Add(1)
	return e.issueGrant(ctx, acc.ID)
}

// checkCode runs the full verification ritual for one submitted code:
// lockout gate, TOTP match, replay guard, failure accounting. A success
// resets the failure counter.
func (e *Engine) checkCode(ctx context.Context, acc *Account, code string) error {
	if err := e.twoFactorLimiter.Check(ctx, acc.ID); err != nil {
		return mapTwoFactorLimiterErr(err)
	}

	secret, err := e.totp.open(acc.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}

	ok, step, err := e.totp.verify(secret, code, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if ok {
		// A code that matches but whose step was already spent is a replay
		// and counts as a failure.
		fresh, err := e.replay.MarkStep(ctx, acc.ID, step, e.totp.stepWindow())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
		}
		ok = fresh
	}

	if !ok {
		if err := e.twoFactorLimiter.RecordFailure(ctx, acc.ID); err != nil {
			if errors.Is(err, limiters.ErrTwoFactorLocked) {
				e.metrics.lockouts.Add(1)
				e.log.Warn().Str("account", acc.ID).Msg("two-factor lockout engaged")
				return ErrTwoFactorLocked
			}
			return mapTwoFactorLimiterErr(err)
		}
		return ErrTwoFactorInvalidCode
	}

	if err := e.twoFactorLimiter.Reset(ctx, acc.ID); err != nil {
		e.log.Warn().Err(err).Str("account", acc.ID).Msg("two-factor counter reset failed")
	}
	return nil
}

func mapTwoFactorLimiterErr(err error) error {
	if errors.Is(err, limiters.ErrTwoFactorLocked) {
		return ErrTwoFactorLocked
	}
	return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
}
