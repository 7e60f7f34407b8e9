package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/croftbax/credkit/internal"
)

const verificationRecordVersion = 1

var (
	ErrVerificationNotFound    = errors.New("verification record not found")
	ErrVerificationMismatch    = errors.New("verification secret mismatch")
	ErrVerificationUnavailable = errors.New("verification store unavailable")
)

// VerificationRecord backs one email-verification token. Unlike reset
// records these are deleted on use: a verified account makes re-redemption
// meaningless, so there is nothing to distinguish afterwards.
type VerificationRecord struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
}

// consumeVerificationScript checks the secret hash and deletes the record in
// one round trip. Record layout: version(1) expiresAt(8) hash(32) account.
// Returns {0} missing/expired, {1} mismatch (record kept), {2, blob} consumed.
var consumeVerificationScript = redis.NewScript(`
local blob = redis.call("GET", KEYS[1])
if not blob then
  return {0}
end
if #blob <= 41 or string.byte(blob, 1) ~= 1 then
  redis.call("DEL", KEYS[1])
  return {0}
end
local expires_at = 0
for i = 2, 9 do
  expires_at = expires_at * 256 + string.byte(blob, i)
end
if tonumber(ARGV[2]) >= expires_at then
  redis.call("DEL", KEYS[1])
  return {0}
end
if string.sub(blob, 10, 41) ~= ARGV[1] then
  return {1}
end
redis.call("DEL", KEYS[1])
return {2, blob}
`)

// VerificationStore keeps email-verification records in Redis.
type VerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewVerificationStore(client redis.UniversalClient, prefix string) *VerificationStore {
	return &VerificationStore{redis: client, prefix: prefix}
}

func (s *VerificationStore) key(id internal.TokenID) string {
	return s.prefix + ":ev:" + id.String()
}

// Issue creates a record and returns the opaque client token.
func (s *VerificationStore) Issue(ctx context.Context, accountID string, ttl time.Duration) (string, time.Time, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := time.Now().Add(ttl)
	rec := VerificationRecord{
		AccountID:  accountID,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := s.redis.Set(ctx, s.key(id), encodeVerificationRecord(&rec), ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return internal.EncodeOpaque(id, secret), expiresAt, nil
}

// Consume redeems the token, deleting its record. Exactly one concurrent
// caller can succeed.
func (s *VerificationStore) Consume(ctx context.Context, token string) (*VerificationRecord, error) {
	id, secret, err := internal.DecodeOpaque(token)
	if err != nil {
		return nil, ErrVerificationNotFound
	}
	providedHash := internal.HashSecret(secret)

	res, err := consumeVerificationScript.Run(ctx, s.redis,
		[]string{s.key(id)},
		providedHash[:],
		time.Now().Unix(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if len(res) == 0 {
		return nil, ErrVerificationUnavailable
	}
	status, _ := res[0].(int64)
	switch status {
	case 0:
		return nil, ErrVerificationNotFound
	case 1:
		return nil, ErrVerificationMismatch
	}
	raw, _ := res[1].(string)
	rec, err := decodeVerificationRecord([]byte(raw))
	if err != nil {
		return nil, ErrVerificationNotFound
	}
	return rec, nil
}

func encodeVerificationRecord(rec *VerificationRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(41 + len(rec.AccountID))
	buf.WriteByte(verificationRecordVersion)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(rec.ExpiresAt))
	buf.Write(ts[:])
	buf.Write(rec.SecretHash[:])
	buf.WriteString(rec.AccountID)
	return buf.Bytes()
}

func decodeVerificationRecord(data []byte) (*VerificationRecord, error) {
	if len(data) <= 41 || data[0] != verificationRecordVersion {
		return nil, errors.New("invalid verification record")
	}
	rec := &VerificationRecord{
		ExpiresAt: int64(binary.BigEndian.Uint64(data[1:9])),
	}
	copy(rec.SecretHash[:], data[9:41])
	rec.AccountID = string(data[41:])
	return rec, nil
}
