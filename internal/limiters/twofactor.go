package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTwoFactorLocked      = errors.New("two-factor attempts locked")
	ErrTwoFactorUnavailable = errors.New("two-factor limiter unavailable")
)

// TwoFactorLimiterConfig holds the lockout thresholds. Zero values fall back
// to 5 failures / 60s.
type TwoFactorLimiterConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// TwoFactorLimiter counts consecutive failed code verifications per account.
// Reaching the threshold refuses further verification until the cooldown
// key expires; a successful verification resets the counter.
type TwoFactorLimiter struct {
	redis     redis.UniversalClient
	prefix    string
	threshold int64
	cooldown  time.Duration
}

func NewTwoFactorLimiter(client redis.UniversalClient, prefix string, cfg TwoFactorLimiterConfig) *TwoFactorLimiter {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &TwoFactorLimiter{
		redis:     client,
		prefix:    prefix,
		threshold: int64(threshold),
		cooldown:  cooldown,
	}
}

func (l *TwoFactorLimiter) key(accountID string) string {
	return l.prefix + ":2fa:" + accountID
}

// Check refuses verification while the account is locked out. It never
// increments; failures are charged through RecordFailure.
func (l *TwoFactorLimiter) Check(ctx context.Context, accountID string) error {
	count, err := l.redis.Get(ctx, l.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if count >= l.threshold {
		return ErrTwoFactorLocked
	}
	return nil
}

// RecordFailure charges one failed attempt. The cooldown TTL starts with the
// first failure of a window; crossing the threshold reports the lock.
func (l *TwoFactorLimiter) RecordFailure(ctx context.Context, accountID string) error {
	count, err := l.redis.Incr(ctx, l.key(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(accountID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
		}
	}
	if count >= l.threshold {
		return ErrTwoFactorLocked
	}
	return nil
}

// Reset clears the failure counter after a successful verification.
func (l *TwoFactorLimiter) Reset(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	return nil
}
