// Package settings exposes operator-tunable policy as an injectable
// provider with an explicit refresh contract. Callers hold a Provider, not
// ambient globals, so tests substitute deterministic values.
package settings

import (
	"context"
	"sync"
	"time"

	"veilvote/internal/attestation"
	"veilvote/internal/ratelimit"
)

// Values is the policy snapshot the voting surface reads per request.
type Values struct {
	// MinK is the server-enforced anonymity floor. Per-poll values below
	// it are raised to it, never honored.
	MinK int

	// RateLimits overrides the compiled-in defaults when non-nil.
	RateLimits map[ratelimit.Action]map[ratelimit.IdentifierClass]ratelimit.Limit

	// DefaultAttestationTier applies to polls that require attestation
	// but do not set their own minimum.
	DefaultAttestationTier attestation.Tier

	// ShieldBlockThreshold is the risk score at which an address is blocked.
	ShieldBlockThreshold int
}

// Provider yields the current policy snapshot.
type Provider interface {
	Current(ctx context.Context) (Values, error)
}

// Defaults returns the compiled-in policy used when no store is configured.
func Defaults() Values {
	return Values{
		MinK:                   30,
		DefaultAttestationTier: attestation.TierBasic,
		ShieldBlockThreshold:   50,
	}
}

// Static always returns the same snapshot. Used in tests and as the
// fallback when no settings store is configured.
type Static struct {
	values Values
}

func NewStatic(values Values) *Static {
	return &Static{values: values}
}

func (s *Static) Current(ctx context.Context) (Values, error) {
	return s.values, nil
}

// Cached wraps a slower provider behind a TTL. A failed refresh serves the
// previous snapshot so a flaky settings store does not take voting down.
type Cached struct {
	source Provider
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	snapshot  Values
	fetchedAt time.Time
	primed    bool
}

func NewCached(source Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{source: source, ttl: ttl, now: time.Now}
}

func (c *Cached) Current(ctx context.Context) (Values, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primed && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.snapshot, nil
	}

	values, err := c.source.Current(ctx)
	if err != nil {
		if c.primed {
			return c.snapshot, nil
		}
		return Values{}, err
	}
	c.snapshot = values
	c.fetchedAt = c.now()
	c.primed = true
	return values, nil
}

// Invalidate forces the next Current call to hit the source.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primed = false
}
