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

// Refresh-token records are binary blobs at fixed offsets so the rotation
// script can check and splice them without a codec:
//
//	offset  size  field
//	0       1     version (currently 1)
//	1       1     revoked flag
//	2       8     expiresAt, unix seconds, big endian
//	10      8     createdAt, unix seconds, big endian
//	18      32    sha256 of the token secret
//	50      16    family id
//	66      ...   account id (utf-8)
//
// Revoked records keep their TTL instead of being deleted: a revoked record
// is what lets a replay of an already-rotated token be recognized as reuse
// rather than garbage. Once the TTL fires the distinction is gone and the
// token degrades to plain invalid.

const (
	refreshRecordVersion = 1
	refreshHeaderSize    = 66
)

// Sentinel outcomes of Rotate. The engine maps these to its public errors.
var (
	ErrRefreshNotFound = errors.New("refresh record not found")
	ErrRefreshExpired  = errors.New("refresh record expired")
	ErrRefreshMismatch = errors.New("refresh secret mismatch")
	ErrRefreshReused   = errors.New("refresh record already rotated")
	ErrRefreshCorrupt  = errors.New("refresh record corrupt")
)

// RefreshRecord is the decoded form of a stored blob.
type RefreshRecord struct {
	AccountID  string
	FamilyID   internal.TokenID
	SecretHash [32]byte
	Revoked    bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// rotateScript performs the compare-and-swap at the heart of rotation: under
// concurrent presentations of the same token exactly one caller observes an
// unrevoked record with a matching hash and installs the successor.
//
// Returns {status} or {status, blob}:
//
//	0 missing, 1 expired, 2 already revoked (reuse), 3 hash mismatch,
//	4 corrupt, 5 rotated
var rotateScript = redis.NewScript(`
local function read_be64(s, i)
  local v = 0
  for j = 0, 7 do
    v = v * 256 + string.byte(s, i + j)
  end
  return v
end

local blob = redis.call("GET", KEYS[1])
if not blob then
  return {0}
end
if #blob <= 66 or string.byte(blob, 1) ~= 1 then
  return {4}
end

local expires_at = read_be64(blob, 3)
local now = tonumber(ARGV[2])
if expires_at <= now then
  return {1}
end
if string.byte(blob, 2) == 1 then
  return {2, blob}
end
if string.sub(blob, 19, 50) ~= ARGV[1] then
  return {3}
end

local marked = string.sub(blob, 1, 1) .. string.char(1) .. string.sub(blob, 3)
redis.call("SET", KEYS[1], marked, "EX", expires_at - now)
redis.call("SET", KEYS[2], ARGV[3], "EX", tonumber(ARGV[4]))
redis.call("SADD", KEYS[3], ARGV[5])
redis.call("EXPIRE", KEYS[3], tonumber(ARGV[4]))
return {5, blob}
`)

// revokeFamilyScript marks every live record of one family revoked while
// preserving each record's remaining TTL.
var revokeFamilyScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local blob = redis.call("GET", key)
  if blob and #blob > 66 and string.byte(blob, 2) == 0 then
    local ttl = redis.call("TTL", key)
    if ttl > 0 then
      local marked = string.sub(blob, 1, 1) .. string.char(1) .. string.sub(blob, 3)
      redis.call("SET", key, marked, "EX", ttl)
      revoked = revoked + 1
    end
  end
end
return revoked
`)

// revokeOneScript revokes a single record after checking the presented
// secret, so logout cannot be used to kill sessions blind.
// Returns 0 missing, 1 expired or corrupt, 2 mismatch, 3 revoked (blob).
var revokeOneScript = redis.NewScript(`
local blob = redis.call("GET", KEYS[1])
if not blob then
  return {0}
end
if #blob <= 66 or string.byte(blob, 1) ~= 1 then
  return {1}
end
if string.sub(blob, 19, 50) ~= ARGV[1] then
  return {2}
end
local ttl = redis.call("TTL", KEYS[1])
if ttl <= 0 then
  return {1}
end
local marked = string.sub(blob, 1, 1) .. string.char(1) .. string.sub(blob, 3)
redis.call("SET", KEYS[1], marked, "EX", ttl)
return {3, blob}
`)

// RefreshStore owns rotating refresh-token records in Redis.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshStore(client redis.UniversalClient, prefix string) *RefreshStore {
	return &RefreshStore{redis: client, prefix: prefix}
}

func (s *RefreshStore) recordKey(id internal.TokenID) string {
	return s.prefix + ":rt:" + id.String()
}

func (s *RefreshStore) familyKey(family internal.TokenID) string {
	return s.prefix + ":rtf:" + family.String()
}

func (s *RefreshStore) accountKey(accountID string) string {
	return s.prefix + ":rta:" + accountID
}

// Issue creates a record in a fresh family and returns the opaque client
// token alongside the family id.
func (s *RefreshStore) Issue(ctx context.Context, accountID string, ttl time.Duration) (string, internal.TokenID, error) {
	family, err := internal.NewTokenID()
	if err != nil {
		return "", family, err
	}
	token, err := s.issueInFamily(ctx, accountID, family, ttl)
	return token, family, err
}

func (s *RefreshStore) issueInFamily(ctx context.Context, accountID string, family internal.TokenID, ttl time.Duration) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", err
	}

	now := time.Now()
	rec := RefreshRecord{
		AccountID:  accountID,
		FamilyID:   family,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(id), encodeRefreshRecord(&rec), ttl)
		pipe.SAdd(ctx, s.familyKey(family), id.String())
		pipe.Expire(ctx, s.familyKey(family), ttl)
		pipe.SAdd(ctx, s.accountKey(accountID), family.String())
		pipe.Expire(ctx, s.accountKey(accountID), ttl)
		return nil
	})
	if err != nil {
		return "", err
	}
	return internal.EncodeOpaque(id, secret), nil
}

// Rotate atomically retires the presented token and installs a successor in
// the same family. On ErrRefreshReused the returned record still carries the
// family so the caller can revoke it.
func (s *RefreshStore) Rotate(ctx context.Context, token string, ttl time.Duration) (string, *RefreshRecord, error) {
	id, secret, err := internal.DecodeOpaque(token)
	if err != nil {
		return "", nil, ErrRefreshNotFound
	}

	nextID, err := internal.NewTokenID()
	if err != nil {
		return "", nil, err
	}
	nextSecret, err := internal.NewSecret()
	if err != nil {
		return "", nil, err
	}

	providedHash := internal.HashSecret(secret)

	// Family and account are immutable per record, so the successor blob can
	// be built from a plain read; the script re-validates hash, expiry, and
	// the revoked flag atomically before anything is written.
	blob, err := s.redis.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, ErrRefreshNotFound
		}
		return "", nil, err
	}
	oldRec, err := decodeRefreshRecord(blob)
	if err != nil {
		return "", nil, ErrRefreshCorrupt
	}

	now := time.Now()
	nextRec := RefreshRecord{
		AccountID:  oldRec.AccountID,
		FamilyID:   oldRec.FamilyID,
		SecretHash: internal.HashSecret(nextSecret),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}

	res, err := rotateScript.Run(ctx, s.redis,
		[]string{s.recordKey(id), s.recordKey(nextID), s.familyKey(oldRec.FamilyID)},
		providedHash[:],
		now.Unix(),
		encodeRefreshRecord(&nextRec),
		int64(ttl/time.Second),
		nextID.String(),
	).Slice()
	if err != nil {
		return "", nil, err
	}
	status, rec, err := parseRotateReply(res)
	if err != nil {
		return "", nil, err
	}

	switch status {
	case 0:
		return "", nil, ErrRefreshNotFound
	case 1:
		return "", nil, ErrRefreshExpired
	case 2:
		return "", rec, ErrRefreshReused
	case 3:
		return "", nil, ErrRefreshMismatch
	case 4:
		return "", nil, ErrRefreshCorrupt
	case 5:
		return internal.EncodeOpaque(nextID, nextSecret), rec, nil
	default:
		return "", nil, fmt.Errorf("unexpected rotate status %d", status)
	}
}

// Revoke retires the presented token and its whole family. Unknown and
// already-dead tokens are not errors: logout is idempotent.
func (s *RefreshStore) Revoke(ctx context.Context, token string) error {
	id, secret, err := internal.DecodeOpaque(token)
	if err != nil {
		return nil
	}
	providedHash := internal.HashSecret(secret)

	res, err := revokeOneScript.Run(ctx, s.redis,
		[]string{s.recordKey(id)},
		providedHash[:],
	).Slice()
	if err != nil {
		return err
	}
	status, rec, err := parseRotateReply(res)
	if err != nil {
		return err
	}
	if status != 3 || rec == nil {
		return nil
	}
	return s.RevokeFamily(ctx, rec.FamilyID)
}

// RevokeFamily kills every live record descended from one issuance.
func (s *RefreshStore) RevokeFamily(ctx context.Context, family internal.TokenID) error {
	return revokeFamilyScript.Run(ctx, s.redis,
		[]string{s.familyKey(family)},
		s.prefix+":rt:",
	).Err()
}

// RevokeAccount kills every family belonging to the account. Used by
// password reset, password change, and logout-everywhere.
func (s *RefreshStore) RevokeAccount(ctx context.Context, accountID string) error {
	families, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	for _, f := range families {
		id, err := internal.ParseTokenID(f)
		if err != nil {
			continue
		}
		if err := s.RevokeFamily(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Peek decodes the stored record for a raw token without mutating it.
// Test and introspection helper; rotation never goes through here.
func (s *RefreshStore) Peek(ctx context.Context, token string) (*RefreshRecord, error) {
	id, _, err := internal.DecodeOpaque(token)
	if err != nil {
		return nil, ErrRefreshNotFound
	}
	blob, err := s.redis.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRefreshNotFound
		}
		return nil, err
	}
	return decodeRefreshRecord(blob)
}

func parseRotateReply(res []interface{}) (int64, *RefreshRecord, error) {
	if len(res) == 0 {
		return 0, nil, errors.New("empty script reply")
	}
	status, ok := res[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected script reply %T", res[0])
	}
	if len(res) < 2 {
		return status, nil, nil
	}
	raw, ok := res[1].(string)
	if !ok {
		return status, nil, nil
	}
	rec, err := decodeRefreshRecord([]byte(raw))
	if err != nil {
		return status, nil, ErrRefreshCorrupt
	}
	return status, rec, nil
}

func encodeRefreshRecord(rec *RefreshRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(refreshHeaderSize + len(rec.AccountID))
	buf.WriteByte(refreshRecordVersion)
	if rec.Revoked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(rec.ExpiresAt.Unix()))
	buf.Write(ts[:])
	binary.BigEndian.PutUint64(ts[:], uint64(rec.CreatedAt.Unix()))
	buf.Write(ts[:])
	buf.Write(rec.SecretHash[:])
	buf.Write(rec.FamilyID[:])
	buf.WriteString(rec.AccountID)
	return buf.Bytes()
}

func decodeRefreshRecord(blob []byte) (*RefreshRecord, error) {
	if len(blob) <= refreshHeaderSize || blob[0] != refreshRecordVersion {
		return nil, ErrRefreshCorrupt
	}
	rec := &RefreshRecord{
		Revoked:   blob[1] == 1,
		ExpiresAt: time.Unix(int64(binary.BigEndian.Uint64(blob[2:10])), 0),
		CreatedAt: time.Unix(int64(binary.BigEndian.Uint64(blob[10:18])), 0),
	}
	copy(rec.SecretHash[:], blob[18:50])
	copy(rec.FamilyID[:], blob[50:66])
	rec.AccountID = string(blob[66:])
	return rec, nil
}
