package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrReplayUnavailable = errors.New("replay guard unavailable")

// markCounterScript advances the last-accepted TOTP step for an account only
// when the new step is strictly greater. Returns 1 when the step is fresh,
// 0 when it was already spent.
var markCounterScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "-1")
local step = tonumber(ARGV[1])
if step <= current then
  return 0
end
redis.call("SET", KEYS[1], step, "EX", tonumber(ARGV[2]))
return 1
`)

// ReplayGuard prevents double-spending of one-shot proofs: a TOTP code's
// time step, and a partial token's jti during the two-factor upgrade.
type ReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
}

func NewReplayGuard(client redis.UniversalClient, prefix string) *ReplayGuard {
	return &ReplayGuard{redis: client, prefix: prefix}
}

// MarkStep records that an account's TOTP step was accepted. Reports false
// when the step (or a later one) was spent before, which a caller must treat
// exactly like a wrong code.
func (g *ReplayGuard) MarkStep(ctx context.Context, accountID string, step int64, ttl time.Duration) (bool, error) {
	res, err := markCounterScript.Run(ctx, g.redis,
		[]string{g.prefix + ":ts:" + accountID},
		step,
		int64(ttl/time.Second),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayUnavailable, err)
	}
	return res == 1, nil
}

// ConsumeJTI claims a token id for single use. Reports false when the id was
// already claimed.
func (g *ReplayGuard) ConsumeJTI(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ok, err := g.redis.SetNX(ctx, g.prefix+":jti:"+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayUnavailable, err)
	}
	return ok, nil
}
