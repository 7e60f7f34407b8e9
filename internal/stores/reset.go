package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/croftbax/credkit/internal"
)

const resetRecordVersion = 1

var (
	ErrResetNotFound    = errors.New("reset record not found")
	ErrResetExpired     = errors.New("reset record expired")
	ErrResetConsumed    = errors.New("reset record already consumed")
	ErrResetMismatch    = errors.New("reset secret mismatch")
	ErrResetUnavailable = errors.New("reset store unavailable")
)

// ResetRecord backs one password-reset token. Consumed records are kept
// until their TTL fires so a second redemption is distinguishable from a
// token that never existed.
type ResetRecord struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
	Consumed   bool
}

// ResetStore keeps password-reset records in Redis.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetStore(client redis.UniversalClient, prefix string) *ResetStore {
	return &ResetStore{redis: client, prefix: prefix}
}

func (s *ResetStore) key(id internal.TokenID) string {
	return s.prefix + ":pr:" + id.String()
}

// Issue creates a record and returns the opaque client token. The raw secret
// exists only in the returned string.
func (s *ResetStore) Issue(ctx context.Context, accountID string, ttl time.Duration) (string, time.Time, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := time.Now().Add(ttl)
	rec := ResetRecord{
		AccountID:  accountID,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := s.redis.Set(ctx, s.key(id), encodeResetRecord(&rec), ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}
	return internal.EncodeOpaque(id, secret), expiresAt, nil
}

// Consume validates the token and marks its record consumed in one optimistic
// transaction. Exactly one concurrent caller wins; the rest observe the
// consumed flag.
func (s *ResetStore) Consume(ctx context.Context, token string) (*ResetRecord, error) {
	id, secret, err := internal.DecodeOpaque(token)
	if err != nil {
		return nil, ErrResetNotFound
	}
	providedHash := internal.HashSecret(secret)
	key := s.key(id)

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		var matched *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeResetRecord(data)
			if err != nil {
				return ErrResetNotFound
			}

			now := time.Now()
			if now.Unix() >= rec.ExpiresAt {
				return ErrResetExpired
			}
			if rec.Consumed {
				return ErrResetConsumed
			}
			if subtle.ConstantTimeCompare(rec.SecretHash[:], providedHash[:]) != 1 {
				return ErrResetMismatch
			}

			rec.Consumed = true
			remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encodeResetRecord(rec), remaining)
				return nil
			})
			if err != nil {
				return err
			}
			matched = rec
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound),
				errors.Is(err, ErrResetExpired),
				errors.Is(err, ErrResetConsumed),
				errors.Is(err, ErrResetMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
			}
		}
		return matched, nil
	}
	return nil, ErrResetConsumed
}

func encodeResetRecord(rec *ResetRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(42 + len(rec.AccountID))
	buf.WriteByte(resetRecordVersion)
	if rec.Consumed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(rec.ExpiresAt))
	buf.Write(ts[:])
	buf.Write(rec.SecretHash[:])
	buf.WriteString(rec.AccountID)
	return buf.Bytes()
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	if len(data) <= 42 || data[0] != resetRecordVersion {
		return nil, errors.New("invalid reset record")
	}
	rec := &ResetRecord{
		Consumed:  data[1] == 1,
		ExpiresAt: int64(binary.BigEndian.Uint64(data[2:10])),
	}
	copy(rec.SecretHash[:], data[10:42])
	rec.AccountID = string(data[42:])
	return rec, nil
}
