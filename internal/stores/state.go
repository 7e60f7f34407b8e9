package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/croftbax/credkit/internal"
)

var (
	ErrStateNotFound    = errors.New("oauth state not found")
	ErrStateUnavailable = errors.New("oauth state store unavailable")
)

// consumeStateScript reads and deletes a state in one round trip so a state
// can never authorize two callbacks.
var consumeStateScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
redis.call("DEL", KEYS[1])
return v
`)

// StateStore keeps the single-use anti-forgery states handed out with OAuth
// redirect URLs. The stored value is the provider name the state was issued
// for, so a state minted for one provider cannot complete another's callback.
type StateStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStateStore(client redis.UniversalClient, prefix string) *StateStore {
	return &StateStore{redis: client, prefix: prefix}
}

func (s *StateStore) key(state string) string {
	return s.prefix + ":st:" + state
}

// Issue mints a random state bound to provider for ttl.
func (s *StateStore) Issue(ctx context.Context, provider string, ttl time.Duration) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	state := id.String()
	if err := s.redis.Set(ctx, s.key(state), provider, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return state, nil
}

// Consume redeems the state and returns the provider it was bound to.
// Unknown, expired, and already-consumed states are indistinguishable.
func (s *StateStore) Consume(ctx context.Context, state string) (string, error) {
	res, err := consumeStateScript.Run(ctx, s.redis, []string{s.key(state)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	provider, ok := res.(string)
	if !ok || provider == "" {
		return "", ErrStateNotFound
	}
	return provider, nil
}
