package password

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool admits hashing work through a weighted semaphore so a burst of logins
// cannot pin every CPU in argon2. Waiters honor context cancellation; work is
// never dropped, only delayed or cancelled by the caller.
type Pool struct {
	hasher *Hasher
	sem    *semaphore.Weighted
}

func NewPool(hasher *Hasher, maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Hash derives a fresh hash of password once a slot is available.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(password)
}

// Verify checks password against encoded once a slot is available.
func (p *Pool) Verify(ctx context.Context, password, encoded string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(password, encoded)
}

// NeedsUpgrade proxies Hasher.NeedsUpgrade; parsing is cheap so no slot is
// taken.
func (p *Pool) NeedsUpgrade(encoded string) (bool, error) {
	return p.hasher.NeedsUpgrade(encoded)
}
