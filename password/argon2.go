package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrPolicy is returned by Hash for passwords below the configured minimum.
var ErrPolicy = errors.New("password below minimum length")

// Config tunes argon2id hashing and the concurrency cap applied by Pool.
// Set once, immutable afterwards.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MinLength is the minimum password length in bytes. Raw bytes are
	// hashed exactly as provided, no Unicode normalization.
	MinLength int

	// MaxConcurrentHashes bounds in-flight argon2 computations in Pool.
	MaxConcurrentHashes int

	// UpgradeOnVerify lets the engine re-hash after a successful verify when
	// the stored hash carries weaker parameters than this config.
	UpgradeOnVerify bool
}

// Validate rejects parameters below safe floors.
func (c *Config) Validate() error {
	if c.Memory < minMemoryKB {
		return errors.New("memory must be >= 8192 KB")
	}
	if c.Time < minTimeCost {
		return errors.New("time cost must be >= 1")
	}
	if c.Parallelism < minParallelism {
		return errors.New("parallelism must be >= 1")
	}
	if c.SaltLength < minSaltLength {
		return errors.New("salt length must be >= 16")
	}
	if c.KeyLength < minKeyLength {
		return errors.New("key length must be >= 16")
	}
	if c.MinLength < 8 {
		return errors.New("minimum password length must be >= 8")
	}
	if c.MaxConcurrentHashes < 1 {
		return errors.New("max concurrent hashes must be >= 1")
	}
	return nil
}

// Hasher encodes and checks argon2id hashes in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Safe for concurrent use. Callers wanting bounded concurrency go through
// Pool instead of calling Hasher directly.
type Hasher struct {
	config Config
}

func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a fresh salted hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < h.config.MinLength {
		return "", ErrPolicy
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the PHC-encoded hash. The compare
// is constant time; the error covers malformed hashes only, never mismatches.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with parameters weaker
// than the current config.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	switch {
	case h.config.Memory > parsed.memory,
		h.config.Time > parsed.time,
		h.config.Parallelism > parsed.parallelism,
		h.config.KeyLength != uint32(len(parsed.key)):
		return true, nil
	}
	return false, nil
}

type phcHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("missing argon2 version")
	}
	v, err := strconv.Atoi(version)
	if err != nil || v != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var parsed phcHash
	if err := parsePHCParams(parts[3], &parsed); err != nil {
		return nil, err
	}

	if parsed.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(parsed.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}
	if parsed.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(parsed.key) == 0 {
		return nil, errors.New("invalid hash length")
	}
	return &parsed, nil
}

func parsePHCParams(part string, out *phcHash) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return errors.New("invalid parameter format")
	}
	var haveM, haveT, haveP bool
	for _, pair := range pairs {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			return errors.New("invalid parameter entry")
		}
		switch k {
		case "m":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return errors.New("invalid memory parameter")
			}
			out.memory, haveM = uint32(v), true
		case "t":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return errors.New("invalid time parameter")
			}
			out.time, haveT = uint32(v), true
		case "p":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return errors.New("invalid parallelism parameter")
			}
			out.parallelism, haveP = uint8(v), true
		default:
			return errors.New("unsupported parameter")
		}
	}
	if !haveM || !haveT || !haveP {
		return errors.New("missing parameters")
	}
	return nil
}
