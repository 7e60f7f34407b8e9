package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrThrottled           = errors.New("rate limited")
	ErrThrottleUnavailable = errors.New("throttle unavailable")
)

// Throttle is a fixed-window counter shared by the login, refresh, and
// register operations. Each operation gets its own instance with its own key
// namespace; counters are kept per identifier and, when an address is
// supplied, per source IP under the same budget.
type Throttle struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	window      time.Duration
}

// NewThrottle returns nil when maxAttempts is zero; a nil Throttle allows
// everything, which is how a throttle is switched off in config.
func NewThrottle(client redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *Throttle {
	if maxAttempts <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Throttle{
		redis:       client,
		prefix:      prefix,
		maxAttempts: int64(maxAttempts),
		window:      window,
	}
}

// Allow charges one attempt against the identifier (and IP when non-empty)
// and reports ErrThrottled once the window budget is spent.
func (t *Throttle) Allow(ctx context.Context, identifier, ip string) error {
	if t == nil {
		return nil
	}
	if identifier != "" {
		if err := t.charge(ctx, t.prefix+":id:"+identifier); err != nil {
			return err
		}
	}
	if ip != "" {
		if err := t.charge(ctx, t.prefix+":ip:"+ip); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier's counter, called after a success so honest
// retries do not accumulate across windows.
func (t *Throttle) Reset(ctx context.Context, identifier string) error {
	if t == nil || identifier == "" {
		return nil
	}
	if err := t.redis.Del(ctx, t.prefix+":id:"+identifier).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	return nil
}

func (t *Throttle) charge(ctx context.Context, key string) error {
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
		}
	}
	if count > t.maxAttempts {
		return ErrThrottled
	}
	return nil
}
