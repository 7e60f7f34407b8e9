package credkit

import (
	"context"
	"time"
)

// Account is the engine's view of a caller-managed account row. The engine
// never persists accounts itself; it reads and mutates them through the
// AccountRepository.
type Account struct {
	ID       string
	Email    string
	Verified bool
	Active   bool

	// PasswordHash is the PHC-encoded argon2id hash, empty for accounts that
	// only authenticate through a linked identity.
	PasswordHash string

	// TwoFactorSecret is the AES-GCM sealed TOTP secret. It may be present
	// while TwoFactorEnabled is still false: setup stores the secret first
	// and a verified code flips the flag.
	TwoFactorSecret  []byte
	TwoFactorEnabled bool

	CreatedAt time.Time
}

// LinkedIdentity records one federated identity attached to an account.
// (Provider, Subject) is unique across all accounts.
type LinkedIdentity struct {
	Provider string
	Subject  string
	Email    string
	LinkedAt time.Time
}

// NewAccount carries the fields the engine asks the repository to persist
// when it creates an account.
type NewAccount struct {
	Email        string
	PasswordHash string
	Verified     bool
}

// AccountUpdate names the mutable fields an engine operation may write back.
// Nil fields are left untouched.
type AccountUpdate struct {
	PasswordHash     *string
	Verified         *bool
	TwoFactorSecret  *[]byte
	TwoFactorEnabled *bool
}

// AccountRepository is implemented by the caller over whatever account
// storage they run. Lookup misses are reported with ErrAccountNotFound;
// every other error is passed through to the engine's caller unwrapped.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create persists a new account and returns it with its assigned ID.
	// A duplicate email must return ErrAccountExists.
	Create(ctx context.Context, acc NewAccount) (*Account, error)

	Update(ctx context.Context, id string, upd AccountUpdate) error

	// Identity links. FindByIdentity misses return ErrAccountNotFound;
	// LinkIdentity on an already-claimed (provider, subject) must return
	// ErrLinkConflict.
	FindByIdentity(ctx context.Context, provider, subject string) (*Account, error)
	LinkIdentity(ctx context.Context, accountID string, ident LinkedIdentity) error
	ListIdentities(ctx context.Context, accountID string) ([]LinkedIdentity, error)
	UnlinkIdentity(ctx context.Context, accountID, provider string) error
}

// Dispatcher delivers out-of-band messages the engine generates. Raw tokens
// cross this boundary exactly once and are never stored in recoverable form.
type Dispatcher interface {
	SendPasswordReset(ctx context.Context, acc *Account, token string, expiresAt time.Time) error
	SendEmailVerification(ctx context.Context, acc *Account, token string, expiresAt time.Time) error
}

// TokenPair is a full grant: a signed access token and an opaque rotating
// refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of Login and CompleteOAuthCallback. Exactly one
// of Tokens or PartialToken is set: PartialToken when the account requires a
// second factor before the full grant.
type LoginResult struct {
	AccountID string

	Tokens *TokenPair

	RequiresTwoFactor bool
	PartialToken      string
	PartialExpiresAt  time.Time
}

// TwoFactorSetup is returned by SetupTwoFactor. Secret is the base32 secret
// for manual entry; ProvisioningURL is the otpauth:// URL for QR enrollment.
// Neither is recoverable from the engine afterwards.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURL string
}

// AccessIdentity is the verified content of an access token, handed to the
// API layer by ValidateAccess.
type AccessIdentity struct {
	AccountID string
	Scope     string
	TokenID   string
	ExpiresAt time.Time
}
