package credkit

import "errors"

var (
	// ErrAuthenticationFailed is returned for unknown identifiers and wrong
	// passwords alike; callers must not be able to tell the two apart.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAccountInactive is returned when credentials verify but the account
	// is disabled.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountExists is returned by Register on a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned by repository-backed lookups that name
	// an account id directly.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPasswordPolicy is returned when a new password fails length checks.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrNoPasswordSet is returned when a password operation targets an
	// account that only has linked identities.
	ErrNoPasswordSet = errors.New("account has no password credential")

	// ErrTokenExpired means the token was well formed and signed by us but
	// its lifetime has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed means the token could not be parsed at all.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignatureInvalid means the token parsed but was not signed by
	// a configured key.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenInvalid covers refresh tokens that decode but match no live
	// record, and other claim-level failures.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenReuseDetected means a refresh token that was already rotated
	// was presented again. The whole family is revoked as a side effect.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrInsufficientScope means a partial-scope access token was used for
	// an operation that needs full scope.
	ErrInsufficientScope = errors.New("insufficient token scope")

	// ErrTwoFactorRequired signals that password verification succeeded but
	// the account needs a second factor before full tokens are issued.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrTwoFactorInvalidCode is returned for codes outside the accepted
	// window and for replayed codes.
	ErrTwoFactorInvalidCode = errors.New("invalid two-factor code")
	// ErrTwoFactorLocked is returned while the failure cooldown is active.
	ErrTwoFactorLocked = errors.New("two-factor verification locked")
	// ErrTwoFactorNotEnabled is returned when a two-factor operation targets
	// an account without an enabled second factor.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorAlreadyEnabled is returned by setup when a second factor
	// is already active.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorUnavailable wraps backend failures in two-factor state.
	ErrTwoFactorUnavailable = errors.New("two-factor backend unavailable")

	// ErrOAuthExchangeFailed wraps provider errors during the code exchange
	// or the identity fetch.
	ErrOAuthExchangeFailed = errors.New("oauth exchange failed")
	// ErrStateMismatch means the callback state was unknown, expired, or
	// already consumed.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrLinkConflict means the provider identity cannot be attached to the
	// resolved account without a conflicting claim on it.
	ErrLinkConflict = errors.New("identity link conflict")
	// ErrIdentityNotFound is returned by UnlinkIdentity when the account has
	// no link for the named provider.
	ErrIdentityNotFound = errors.New("linked identity not found")
	// ErrLastCredential is returned when unlinking would leave the account
	// with no way to sign in.
	ErrLastCredential = errors.New("cannot remove last credential")
	// ErrProviderUnknown is returned when an operation names a provider the
	// engine was not configured with.
	ErrProviderUnknown = errors.New("unknown identity provider")

	// ErrResetTokenInvalid is returned for reset tokens that decode to no
	// known record or fail the secret check.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrResetTokenExpired is returned for reset tokens past their TTL.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrResetTokenConsumed is returned when a reset token is presented a
	// second time before its record expires.
	ErrResetTokenConsumed = errors.New("reset token already used")
	// ErrVerificationInvalid is returned for unknown, expired, or already
	// used email verification tokens.
	ErrVerificationInvalid = errors.New("verification token invalid")

	// ErrRateLimited is returned when a throttle window for the operation
	// is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps Redis failures on state the engine owns.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is returned when the builder was not completed.
	ErrEngineNotReady = errors.New("engine not initialized")
)
