package credkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/croftbax/credkit/identity"
	"github.com/croftbax/credkit/internal"
	"github.com/croftbax/credkit/internal/limiters"
	"github.com/croftbax/credkit/internal/stores"
	"github.com/croftbax/credkit/password"
	"github.com/croftbax/credkit/token"
)

// Engine composes credential verification, token issuance and rotation,
// two-factor step-up, federated identity linking, and the single-use token
// flows behind one API. All methods are safe for concurrent use; cross-call
// coordination happens in Redis, never in process memory.
type Engine struct {
	config     Config
	log        zerolog.Logger
	accounts   AccountRepository
	dispatcher Dispatcher

	tokens   *token.Manager
	hasher   *password.Pool
	totp     *totpManager
	metrics  *Metrics
	burnHash string

	refresh       *stores.RefreshStore
	resets        *stores.ResetStore
	verifications *stores.VerificationStore
	states        *stores.StateStore
	replay        *stores.ReplayGuard

	twoFactorLimiter *limiters.TwoFactorLimiter
	loginThrottle    *limiters.Throttle
	refreshThrottle  *limiters.Throttle
	registerThrottle *limiters.Throttle

	providers map[string]identity.Provider
}

// Login verifies an email/password pair. Accounts with a second factor
// enabled receive a partial-scope token instead of the full grant; everyone
// else gets an access/refresh pair.
//
// Unknown emails and wrong passwords are indistinguishable to the caller,
// and both cost one argon2 verification so timing does not leak which.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if err := e.loginThrottle.Allow(ctx, email, e.clientIP(ctx)); err != nil {
		return nil, mapThrottleErr(err)
	}

	acc, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.burnVerification(ctx, pass)
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	if acc.PasswordHash == "" {
		e.burnVerification(ctx, pass)
		return nil, ErrAuthenticationFailed
	}

	ok, err := e.hasher.Verify(ctx, pass, acc.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	if !acc.Active {
		return nil, ErrAccountInactive
	}

	e.maybeUpgradeHash(ctx, acc, pass)

	if err := e.loginThrottle.Reset(ctx, email); err != nil {
		e.log.Warn().Err(err).Msg("login throttle reset failed")
	}
	e.metrics.logins.Add(1)

	return e.finishLogin(ctx, acc)
}

// finishLogin issues the grant appropriate to the account's second-factor
// state. Shared by password and federated logins.
func (e *Engine) finishLogin(ctx context.Context, acc *Account) (*LoginResult, error) {
	if acc.TwoFactorEnabled {
		raw, claims, err := e.tokens.Issue(acc.ID, token.ScopePartial)
		if err != nil {
			return nil, err
		}
		e.metrics.stepUpsStarted.Add(1)
		return &LoginResult{
			AccountID:         acc.ID,
			RequiresTwoFactor: true,
			PartialToken:      raw,
			PartialExpiresAt:  claims.ExpiresAt.Time,
		}, nil
	}

	pair, err := e.issueGrant(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccountID: acc.ID, Tokens: pair}, nil
}

// issueGrant mints a full access token and a refresh token in a new family.
func (e *Engine) issueGrant(ctx context.Context, accountID string) (*TokenPair, error) {
	raw, claims, err := e.tokens.Issue(accountID, token.ScopeFull)
	if err != nil {
		return nil, err
	}
	refreshRaw, _, err := e.refresh.Issue(ctx, accountID, e.config.Token.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &TokenPair{
		AccessToken:      raw,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refreshRaw,
		RefreshExpiresAt: claims.IssuedAt.Time.Add(e.config.Token.RefreshTTL),
	}, nil
}

// Refresh rotates a refresh token: the presented token dies, a successor in
// the same family is born, and a fresh access token comes with it. A token
// that was already rotated is treated as stolen and takes its whole family
// down before the caller sees ErrTokenReuseDetected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	throttleID := refreshThrottleID(refreshToken)
	if err := e.refreshThrottle.Allow(ctx, throttleID, e.clientIP(ctx)); err != nil {
		return nil, mapThrottleErr(err)
	}

	next, rec, err := e.refresh.Rotate(ctx, refreshToken, e.config.Token.RefreshTTL)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrRefreshReused):
			e.metrics.reuseDetections.Add(1)
			if rec != nil {
				if revErr := e.refresh.RevokeFamily(ctx, rec.FamilyID); revErr != nil {
					e.log.Error().Err(revErr).Msg("family revocation after reuse failed")
				}
				e.log.Warn().
					Str("account", rec.AccountID).
					Msg("refresh token reuse detected, family revoked")
			}
			return nil, ErrTokenReuseDetected
		case errors.Is(err, stores.ErrRefreshNotFound),
			errors.Is(err, stores.ErrRefreshExpired),
			errors.Is(err, stores.ErrRefreshMismatch),
			errors.Is(err, stores.ErrRefreshCorrupt):
			// An expired record is indistinguishable from one that TTL'd out
			// of the store, so both present as plain invalid.
			return nil, ErrTokenInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	raw, claims, err := e.tokens.Issue(rec.AccountID, token.ScopeFull)
	if err != nil {
		return nil, err
	}
	e.metrics.refreshes.Add(1)
	return &TokenPair{
		AccessToken:      raw,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     next,
		RefreshExpiresAt: claims.IssuedAt.Time.Add(e.config.Token.RefreshTTL),
	}, nil
}

// Logout revokes the presented refresh token and its family. Idempotent:
// unknown or already-dead tokens succeed silently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.refresh.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// LogoutAll revokes every refresh-token family the account has, across all
// devices. Outstanding access tokens ride out their short lifetime.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if err := e.refresh.RevokeAccount(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ValidateAccess verifies a full-scope access token for the API layer.
// Partial tokens are rejected with ErrInsufficientScope: they authorize the
// two-factor upgrade and nothing else.
func (e *Engine) ValidateAccess(raw string) (*AccessIdentity, error) {
	claims, err := e.verifyToken(raw)
	if err != nil {
		return nil, err
	}
	if claims.Scope != token.ScopeFull {
		return nil, ErrInsufficientScope
	}
	return &AccessIdentity{
		AccountID: claims.Subject,
		Scope:     claims.Scope,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// verifyToken maps codec errors onto the public taxonomy.
func (e *Engine) verifyToken(raw string) (*token.Claims, error) {
	claims, err := e.tokens.Verify(raw)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, token.ErrSignature):
			return nil, ErrTokenSignatureInvalid
		case errors.Is(err, token.ErrMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrTokenInvalid
		}
	}
	return claims, nil
}

// maybeUpgradeHash re-hashes the password when the stored hash is weaker
// than the configured parameters. Best effort: verification already passed.
func (e *Engine) maybeUpgradeHash(ctx context.Context, acc *Account, pass string) {
	if !e.config.Password.UpgradeOnVerify {
		return
	}
	up, err := e.hasher.NeedsUpgrade(acc.PasswordHash)
	if err != nil || !up {
		return
	}
	rehashed, err := e.hasher.Hash(ctx, pass)
	if err != nil {
		return
	}
	if err := e.accounts.Update(ctx, acc.ID, AccountUpdate{PasswordHash: &rehashed}); err != nil {
		e.log.Warn().Err(err).Str("account", acc.ID).Msg("password hash upgrade failed")
	}
}

// burnVerification runs one argon2 verification against a throwaway hash so
// failed lookups cost the same as failed passwords.
func (e *Engine) burnVerification(ctx context.Context, pass string) {
	_, _ = e.hasher.Verify(ctx, pass, e.burnHash)
}

// clientIP is the throttle's view of the caller address: empty unless IP
// tracking is switched on.
func (e *Engine) clientIP(ctx context.Context) string {
	if !e.config.Throttle.TrackIP {
		return ""
	}
	return ClientIP(ctx)
}

func refreshThrottleID(refreshToken string) string {
	id, _, err := internal.DecodeOpaque(refreshToken)
	if err != nil {
		return ""
	}
	return id.String()
}

func mapThrottleErr(err error) error {
	if errors.Is(err, limiters.ErrThrottled) {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
