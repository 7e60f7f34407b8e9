package credkit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/croftbax/credkit/password"
	"github.com/croftbax/credkit/token"
)

// memoryRepo is an in-memory AccountRepository for engine tests.
type memoryRepo struct {
	mu         sync.Mutex
	nextID     int
	accounts   map[string]*Account
	byEmail    map[string]string
	identities map[string][]LinkedIdentity
	identIndex map[string]string

	failUpdates bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts:   make(map[string]*Account),
		byEmail:    make(map[string]string),
		identities: make(map[string][]LinkedIdentity),
		identIndex: make(map[string]string),
	}
}

func identKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func (r *memoryRepo) FindByID(ctx context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *r.accounts[id]
	return &cp, nil
}

func (r *memoryRepo) Create(ctx context.Context, acc NewAccount) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[acc.Email]; exists {
		return nil, ErrAccountExists
	}
	r.nextID++
	created := &Account{
		ID:           fmt.Sprintf("acct-%d", r.nextID),
		Email:        acc.Email,
		Verified:     acc.Verified,
		Active:       true,
		PasswordHash: acc.PasswordHash,
		CreatedAt:    time.Now(),
	}
	r.accounts[created.ID] = created
	r.byEmail[created.Email] = created.ID
	cp := *created
	return &cp, nil
}

func (r *memoryRepo) Update(ctx context.Context, id string, upd AccountUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates {
		return fmt.Errorf("repository update refused")
	}
	acc, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if upd.PasswordHash != nil {
		acc.PasswordHash = *upd.PasswordHash
	}
	if upd.Verified != nil {
		acc.Verified = *upd.Verified
	}
	if upd.TwoFactorSecret != nil {
		acc.TwoFactorSecret = *upd.TwoFactorSecret
	}
	if upd.TwoFactorEnabled != nil {
		acc.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
	return nil
}

func (r *memoryRepo) FindByIdentity(ctx context.Context, provider, subject string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identIndex[identKey(provider, subject)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *r.accounts[id]
	return &cp, nil
}

func (r *memoryRepo) LinkIdentity(ctx context.Context, accountID string, ident LinkedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identKey(ident.Provider, ident.Subject)
	if _, claimed := r.identIndex[key]; claimed {
		return ErrLinkConflict
	}
	r.identIndex[key] = accountID
	r.identities[accountID] = append(r.identities[accountID], ident)
	return nil
}

func (r *memoryRepo) ListIdentities(ctx context.Context, accountID string) ([]LinkedIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LinkedIdentity(nil), r.identities[accountID]...), nil
}

func (r *memoryRepo) UnlinkIdentity(ctx context.Context, accountID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	links := r.identities[accountID]
	for i, l := range links {
		if l.Provider == provider {
			delete(r.identIndex, identKey(l.Provider, l.Subject))
			r.identities[accountID] = append(links[:i], links[i+1:]...)
			return nil
		}
	}
	return ErrIdentityNotFound
}

// setActive flips the Active flag directly, bypassing the engine.
func (r *memoryRepo) setActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[id]; ok {
		acc.Active = active
	}
}

func (r *memoryRepo) setVerified(id string, verified bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[id]; ok {
		acc.Verified = verified
	}
}

// captureDispatcher records dispatched tokens instead of sending anything.
type captureDispatcher struct {
	mu                 sync.Mutex
	resetTokens        []string
	verificationTokens []string
}

func (d *captureDispatcher) SendPasswordReset(ctx context.Context, acc *Account, token string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetTokens = append(d.resetTokens, token)
	return nil
}

func (d *captureDispatcher) SendEmailVerification(ctx context.Context, acc *Account, token string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verificationTokens = append(d.verificationTokens, token)
	return nil
}

func (d *captureDispatcher) lastReset(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.resetTokens) == 0 {
		t.Fatal("no reset token dispatched")
	}
	return d.resetTokens[len(d.resetTokens)-1]
}

func (d *captureDispatcher) lastVerification(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.verificationTokens) == 0 {
		t.Fatal("no verification token dispatched")
	}
	return d.verificationTokens[len(d.verificationTokens)-1]
}

// testEngineConfig keeps argon2 cheap and throttles loose so tests exercise
// flow logic, not tuning.
func testEngineConfig() Config {
	return Config{
		Token: token.Config{
			SigningMethod: token.MethodHS256,
			PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
			Issuer:        "credkit-test",
			AccessTTL:     15 * time.Minute,
			PartialTTL:    5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Leeway:        30 * time.Second,
		},
		Password: password.Config{
			Memory:              8192,
			Time:                1,
			Parallelism:         1,
			SaltLength:          16,
			KeyLength:           16,
			MinLength:           8,
			MaxConcurrentHashes: 4,
			UpgradeOnVerify:     true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:           "credkit-test",
			Period:           30 * time.Second,
			Digits:           6,
			Skew:             1,
			LockoutThreshold: 3,
			Cooldown:         time.Minute,
			SecretCipherKey:  []byte("an-exactly-32-byte-cipher-key!!!"),
		},
		Throttle: ThrottleConfig{
			LoginMaxAttempts:    100,
			LoginWindow:         time.Minute,
			RefreshMaxAttempts:  100,
			RefreshWindow:       time.Minute,
			RegisterMaxAttempts: 100,
			RegisterWindow:      time.Minute,
			TrackIP:             true,
		},
	}
}

type engineFixture struct {
	engine     *Engine
	repo       *memoryRepo
	dispatcher *captureDispatcher
	mr         *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *engineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testEngineConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	repo := newMemoryRepo()
	dispatcher := &captureDispatcher{}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccounts(repo).
		WithDispatcher(dispatcher).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	return &engineFixture{engine: engine, repo: repo, dispatcher: dispatcher, mr: mr}
}

func (f *engineFixture) register(t *testing.T, email, pass string) *Account {
	t.Helper()
	acc, err := f.engine.Register(context.Background(), email, pass)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	return acc
}

// enableTwoFactor installs a sealed secret and flips the flag directly,
// leaving the replay guard untouched so the test itself can spend steps.
// The full setup handshake has its own test.
func (f *engineFixture) enableTwoFactor(t *testing.T, accountID, email string) string {
	t.Helper()
	secret, _, err := f.engine.totp.generate(email)
	if err != nil {
		t.Fatalf("totp generate error: %v", err)
	}
	sealed, err := f.engine.totp.seal(secret)
	if err != nil {
		t.Fatalf("totp seal error: %v", err)
	}
	enabled := true
	err = f.repo.Update(context.Background(), accountID, AccountUpdate{
		TwoFactorSecret:  &sealed,
		TwoFactorEnabled: &enabled,
	})
	if err != nil {
		t.Fatalf("repo update error: %v", err)
	}
	return secret
}

// codeAt mints the TOTP code for secret at a given time.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		t.Fatalf("GenerateCode error: %v", err)
	}
	return code
}
