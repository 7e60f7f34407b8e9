package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// Opaque tokens handed to clients are base64url(id || secret): a 16-byte
// record locator and a 32-byte secret. Only sha256(secret) is stored, so a
// store dump cannot be replayed as tokens. Refresh, reset, and verification
// tokens all share this shape.

// TokenID locates one engine-owned record.
type TokenID [16]byte

const (
	SecretSize    = 32
	opaqueRawSize = 16 + SecretSize
)

var ErrOpaqueToken = errors.New("malformed opaque token")

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (id TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseTokenID(s string) (TokenID, error) {
	var id TokenID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, ErrOpaqueToken
	}
	if len(raw) != len(id) {
		return id, ErrOpaqueToken
	}
	copy(id[:], raw)
	return id, nil
}

func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeOpaque packs a record id and its secret into the client-facing form.
func EncodeOpaque(id TokenID, secret [SecretSize]byte) string {
	var raw [opaqueRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeOpaque is the inverse of EncodeOpaque. Size and alphabet errors both
// return ErrOpaqueToken so callers cannot learn which part failed.
func DecodeOpaque(token string) (TokenID, [SecretSize]byte, error) {
	var (
		id     TokenID
		secret [SecretSize]byte
	)
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, ErrOpaqueToken
	}
	if len(raw) != opaqueRawSize {
		return id, secret, ErrOpaqueToken
	}
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}
