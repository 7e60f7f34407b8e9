package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope values carried in access tokens. Partial tokens are issued after a
// password or identity proof when the account still owes a second factor;
// they authorize nothing except the two-factor validation step.
const (
	ScopeFull    = "full"
	ScopePartial = "partial"
)

// SigningMethod selects the signature algorithm for access tokens.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Sentinel errors returned by Verify. The engine maps these onto its public
// taxonomy; they are exported so direct users of the package can do the same.
var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
	ErrSignature = errors.New("token signature invalid")
	ErrClaims    = errors.New("token claims invalid")
)

// Config describes how access tokens are minted and checked. Configs are set
// once and treated as immutable afterwards.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256 or the ed25519 private key
	// (raw 64 bytes or PEM).
	PrivateKey []byte
	// PublicKey is the ed25519 verify key; ignored for hs256.
	PublicKey []byte
	Issuer    string

	AccessTTL  time.Duration
	PartialTTL time.Duration
	// RefreshTTL is carried here so all lifetime tuning lives together; the
	// refresh store reads it through the engine.
	RefreshTTL time.Duration

	Leeway time.Duration

	// KeyID, when set, is stamped into the header and required on verify.
	// VerifyKeys maps key ids to verify keys for rotation overlap windows.
	KeyID      string
	VerifyKeys map[string][]byte
}

// Validate checks the key material against the chosen method.
func (c *Config) Validate() error {
	if c.AccessTTL <= 0 || c.PartialTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.PartialTTL > c.AccessTTL {
		return errors.New("partial TTL must not exceed access TTL")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("leeway out of range")
	}
	switch c.SigningMethod {
	case MethodHS256:
		if len(c.PrivateKey) < 32 {
			return errors.New("hs256 requires a signing key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(c.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(c.PrivateKey); err != nil {
				return err
			}
		}
		if len(c.PublicKey) == 0 && len(c.VerifyKeys) == 0 {
			return errors.New("ed25519 requires a public key or verify key set")
		}
		if len(c.PublicKey) > 0 {
			if _, err := parseEdPublicKey(c.PublicKey); err != nil {
				return err
			}
		}
		for kid, key := range c.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return fmt.Errorf("verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return fmt.Errorf("unsupported signing method %q", c.SigningMethod)
	}
	if c.KeyID != "" && len(c.VerifyKeys) > 0 {
		if _, ok := c.VerifyKeys[c.KeyID]; !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return nil
}

// Claims is the payload of a signed access token. Subject is the account id,
// ID (jti) identifies the individual token and is what makes partial tokens
// single-use for the upgrade operation.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Manager mints and verifies access tokens. Safe for concurrent use.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	return &Manager{config: cfg}, nil
}

// Issue signs an access token for the subject at the given scope. Partial
// scope uses the shorter PartialTTL. The returned Claims carry the assigned
// jti and expiry.
func (m *Manager) Issue(subject, scope string) (string, *Claims, error) {
	if scope != ScopeFull && scope != ScopePartial {
		return "", nil, fmt.Errorf("unknown scope %q", scope)
	}
	ttl := m.config.AccessTTL
	if scope == ScopePartial {
		ttl = m.config.PartialTTL
	}
	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(m.signingMethod(), claims)
	if m.config.KeyID != "" {
		tok.Header["kid"] = m.config.KeyID
	}
	key, err := m.signKey()
	if err != nil {
		return "", nil, err
	}
	raw, err := tok.SignedString(key)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// Verify parses and validates a raw token. Failures are classified:
// ErrExpired for lifetime, ErrSignature for key mismatch, ErrMalformed for
// anything that does not parse, ErrClaims for valid signatures over
// unacceptable claims.
func (m *Manager) Verify(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signingMethod().Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, m.verifyKeyFor)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, fmt.Errorf("%w: %v", ErrClaims, err)
		}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrClaims
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrClaims
	}
	if claims.Scope != ScopeFull && claims.Scope != ScopePartial {
		return nil, ErrClaims
	}
	return claims, nil
}

func (m *Manager) signingMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKeyFor(t *jwt.Token) (interface{}, error) {
	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyBytes(key)
	}
	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func (m *Manager) keyBytes(key []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
