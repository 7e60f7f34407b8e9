package credkit

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/croftbax/credkit/identity"
	"github.com/croftbax/credkit/internal/limiters"
	"github.com/croftbax/credkit/internal/stores"
	"github.com/croftbax/credkit/password"
	"github.com/croftbax/credkit/token"
)

// Builder assembles an Engine. Construction never touches the network:
// a Build success means configuration is sound, not that Redis is reachable.
//
//	engine, err := credkit.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithAccounts(repo).
//		Build()
type Builder struct {
	config     Config
	hasConfig  bool
	redis      redis.UniversalClient
	accounts   AccountRepository
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func New() *Builder {
	return &Builder{logger: zerolog.Nop()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.hasConfig = true
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccounts(repo AccountRepository) *Builder {
	b.accounts = repo
	return b
}

// WithDispatcher sets the out-of-band message collaborator. Optional: without
// one, reset and verification initiation fail with ErrEngineNotReady since
// their tokens would be undeliverable.
func (b *Builder) WithDispatcher(d Dispatcher) *Builder {
	b.dispatcher = d
	return b
}

// WithLogger sets the structured log destination. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if !b.hasConfig {
		return nil, errors.New("credkit: config is required")
	}
	if b.redis == nil {
		return nil, errors.New("credkit: redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("credkit: account repository is required")
	}

	cfg := b.config
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(cfg.Token)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	totp, err := newTOTPManager(cfg.TwoFactor)
	if err != nil {
		return nil, err
	}

	// One throwaway hash for the timing-equalizing verify on unknown emails.
	burnHash, err := hasher.Hash("credkit-burn-credential")
	if err != nil {
		return nil, err
	}

	providers := make(map[string]identity.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}

	prefix := cfg.RedisPrefix
	e := &Engine{
		config:        cfg,
		log:           b.logger,
		accounts:      b.accounts,
		dispatcher:    b.dispatcher,
		tokens:        tokens,
		hasher:        password.NewPool(hasher, cfg.Password.MaxConcurrentHashes),
		totp:          totp,
		burnHash:      burnHash,
		refresh:       stores.NewRefreshStore(b.redis, prefix),
		resets:        stores.NewResetStore(b.redis, prefix),
		verifications: stores.NewVerificationStore(b.redis, prefix),
		states:        stores.NewStateStore(b.redis, prefix),
		replay:        stores.NewReplayGuard(b.redis, prefix),
		providers:     providers,
		metrics:       &Metrics{},
		twoFactorLimiter: limiters.NewTwoFactorLimiter(b.redis, prefix, limiters.TwoFactorLimiterConfig{
			Threshold: cfg.TwoFactor.LockoutThreshold,
			Cooldown:  cfg.TwoFactor.Cooldown,
		}),
		loginThrottle:    limiters.NewThrottle(b.redis, prefix+":th:login", cfg.Throttle.LoginMaxAttempts, cfg.Throttle.LoginWindow),
		refreshThrottle:  limiters.NewThrottle(b.redis, prefix+":th:refresh", cfg.Throttle.RefreshMaxAttempts, cfg.Throttle.RefreshWindow),
		registerThrottle: limiters.NewThrottle(b.redis, prefix+":th:register", cfg.Throttle.RegisterMaxAttempts, cfg.Throttle.RegisterWindow),
	}
	return e, nil
}
