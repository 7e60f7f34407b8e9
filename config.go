package credkit

import (
	"errors"
	"fmt"
	"time"

	"github.com/croftbax/credkit/identity"
	"github.com/croftbax/credkit/password"
	"github.com/croftbax/credkit/token"
)

// Config holds every tunable of the engine. Zero fields are filled from
// defaults at build time; Validate rejects combinations that cannot run.
// Configs are set up once before Build and treated as immutable afterwards.
type Config struct {
	Token        token.Config
	Password     password.Config
	TwoFactor    TwoFactorConfig
	Reset        ResetConfig
	Verification VerificationConfig
	Throttle     ThrottleConfig
	Providers    []identity.Provider
	Identity     IdentityConfig

	// RedisPrefix namespaces every key the engine writes. Default "ck".
	RedisPrefix string
}

// SkewStrict disables adjacent-step tolerance in TwoFactorConfig.Skew,
// where a plain zero selects the default of one step.
const SkewStrict = -1

// TwoFactorConfig tunes TOTP verification and the lockout counter.
type TwoFactorConfig struct {
	// Issuer is the label providers display next to the account email.
	Issuer string

	Period time.Duration
	Digits int
	// Skew is the number of adjacent time steps accepted on either side of
	// the current one. Zero selects the default of one step; SkewStrict
	// accepts the current step only.
	Skew int

	// LockoutThreshold consecutive failures start Cooldown, during which
	// every verification returns ErrTwoFactorLocked.
	LockoutThreshold int
	Cooldown         time.Duration

	// SecretCipherKey seals TOTP secrets before they reach the account
	// repository. Must be 32 bytes.
	SecretCipherKey []byte
}

// ResetConfig tunes single-use password reset tokens.
type ResetConfig struct {
	TokenTTL time.Duration
}

// VerificationConfig tunes single-use email verification tokens.
type VerificationConfig struct {
	TokenTTL time.Duration
}

// ThrottleConfig caps attempts per fixed window. Counters are kept per
// identifier. A zero MaxAttempts disables that throttle.
type ThrottleConfig struct {
	LoginMaxAttempts    int
	LoginWindow         time.Duration
	RefreshMaxAttempts  int
	RefreshWindow       time.Duration
	RegisterMaxAttempts int
	RegisterWindow      time.Duration

	// TrackIP additionally charges the source address attached by
	// WithClientIP under the same budgets. The default config enables it;
	// an explicit ThrottleConfig must opt in.
	TrackIP bool
}

// IdentityConfig tunes the federated-identity flow shared by all providers.
type IdentityConfig struct {
	// StateTTL bounds how long an issued redirect state is redeemable.
	StateTTL time.Duration
	// ExchangeTimeout caps the provider round trips during a callback.
	ExchangeTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Token: token.Config{
			SigningMethod: "hs256",
			Issuer:        "credkit",
			AccessTTL:     15 * time.Minute,
			PartialTTL:    5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Leeway:        30 * time.Second,
		},
		Password: password.Config{
			Memory:              64 * 1024,
			Time:                3,
			Parallelism:         2,
			SaltLength:          16,
			KeyLength:           32,
			MinLength:           10,
			MaxConcurrentHashes: 8,
			UpgradeOnVerify:     true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:           "credkit",
			Period:           30 * time.Second,
			Digits:           6,
			Skew:             1,
			LockoutThreshold: 5,
			Cooldown:         60 * time.Second,
		},
		Reset:        ResetConfig{TokenTTL: time.Hour},
		Verification: VerificationConfig{TokenTTL: 24 * time.Hour},
		Throttle: ThrottleConfig{
			LoginMaxAttempts:    5,
			LoginWindow:         time.Minute,
			RefreshMaxAttempts:  10,
			RefreshWindow:       time.Minute,
			RegisterMaxAttempts: 3,
			RegisterWindow:      time.Minute,
			TrackIP:             true,
		},
		Identity: IdentityConfig{
			StateTTL:        10 * time.Minute,
			ExchangeTimeout: 10 * time.Second,
		},
		RedisPrefix: "ck",
	}
}

// fillDefaults replaces zero values with the defaults above. Explicit
// non-zero settings always win.
func (c *Config) fillDefaults() {
	d := defaultConfig()
	if c.Token.SigningMethod == "" {
		c.Token.SigningMethod = d.Token.SigningMethod
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = d.Token.Issuer
	}
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = d.Token.AccessTTL
	}
	if c.Token.PartialTTL == 0 {
		c.Token.PartialTTL = d.Token.PartialTTL
	}
	if c.Token.RefreshTTL == 0 {
		c.Token.RefreshTTL = d.Token.RefreshTTL
	}
	if c.Token.Leeway == 0 {
		c.Token.Leeway = d.Token.Leeway
	}
	if c.Password.Memory == 0 {
		c.Password = d.Password
	}
	if c.Password.MaxConcurrentHashes == 0 {
		c.Password.MaxConcurrentHashes = d.Password.MaxConcurrentHashes
	}
	if c.TwoFactor.Issuer == "" {
		c.TwoFactor.Issuer = d.TwoFactor.Issuer
	}
	if c.TwoFactor.Period == 0 {
		c.TwoFactor.Period = d.TwoFactor.Period
	}
	if c.TwoFactor.Digits == 0 {
		c.TwoFactor.Digits = d.TwoFactor.Digits
	}
	if c.TwoFactor.Skew == 0 {
		c.TwoFactor.Skew = d.TwoFactor.Skew
	}
	if c.TwoFactor.LockoutThreshold == 0 {
		c.TwoFactor.LockoutThreshold = d.TwoFactor.LockoutThreshold
	}
	if c.TwoFactor.Cooldown == 0 {
		c.TwoFactor.Cooldown = d.TwoFactor.Cooldown
	}
	if c.Reset.TokenTTL == 0 {
		c.Reset.TokenTTL = d.Reset.TokenTTL
	}
	if c.Verification.TokenTTL == 0 {
		c.Verification.TokenTTL = d.Verification.TokenTTL
	}
	if c.Throttle == (ThrottleConfig{}) {
		c.Throttle = d.Throttle
	}
	if c.Identity.StateTTL == 0 {
		c.Identity.StateTTL = d.Identity.StateTTL
	}
	if c.Identity.ExchangeTimeout == 0 {
		c.Identity.ExchangeTimeout = d.Identity.ExchangeTimeout
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = d.RedisPrefix
	}
}

// Validate reports the first configuration problem found. Build calls it
// after defaults are applied, so only explicit misconfiguration reaches it.
func (c *Config) Validate() error {
	if err := c.Token.Validate(); err != nil {
		return fmt.Errorf("token config: %w", err)
	}
	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	if c.TwoFactor.Skew < SkewStrict || c.TwoFactor.Skew > 2 {
		return errors.New("two-factor skew must be SkewStrict or at most 2 steps")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("two-factor digits must be 6 or 8")
	}
	if len(c.TwoFactor.SecretCipherKey) != 0 && len(c.TwoFactor.SecretCipherKey) != 32 {
		return errors.New("two-factor secret cipher key must be 32 bytes")
	}
	if c.Reset.TokenTTL < time.Minute {
		return errors.New("reset token TTL must be at least one minute")
	}
	if c.Verification.TokenTTL < time.Minute {
		return errors.New("verification token TTL must be at least one minute")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// twoFactorReady reports whether the config can seal TOTP secrets.
func (c *Config) twoFactorReady() bool {
	return len(c.TwoFactor.SecretCipherKey) == 32
}
