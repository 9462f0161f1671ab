package bruteforce

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultline/authplane/store"
)

// Guard answers "may this login attempt proceed" by evaluating the
// policy against windowed failure counts. The attempt store is the
// source of truth; the cache, when present, serves reads first and a
// lock-level cache answer is re-confirmed against the store so a stale
// or inflated counter can never lock an account on its own.
type Guard struct {
	attempts store.LoginAttemptStore
	cache    *Cache
	policy   Policy
	now      func() time.Time
}

// NewGuard creates a [Guard]. cache may be nil, in which case every
// evaluation reads the attempt store directly.
func NewGuard(attempts store.LoginAttemptStore, cache *Cache, policy Policy, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{attempts: attempts, cache: cache, policy: policy, now: now}
}

// Check evaluates the current failure counts for the identifier+IP
// pair. A cache failure falls back to the store rather than failing
// the login.
func (g *Guard) Check(ctx context.Context, identifier, ip string) (Decision, error) {
	if g.cache != nil {
		identifierCount, ipCount, err := g.cache.Failures(ctx, identifier, ip)
		if err == nil {
			d := Evaluate(g.policy, identifierCount, ipCount)
			if !d.LockLevel() {
				return d, nil
			}
			// Lock-level answers must come from the source of truth.
			return g.checkStore(ctx, identifier, ip)
		}
	}
	return g.checkStore(ctx, identifier, ip)
}

func (g *Guard) checkStore(ctx context.Context, identifier, ip string) (Decision, error) {
	now := g.now()

	identifierCount, err := g.attempts.CountIdentifierFailures(ctx, identifier, now.Add(-g.policy.IdentifierWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("count identifier failures: %w", err)
	}
	ipCount, err := g.attempts.CountIPFailures(ctx, ip, now.Add(-g.policy.IPWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("count ip failures: %w", err)
	}

	return Evaluate(g.policy, identifierCount, ipCount), nil
}

// Record appends one attempt row per call, unconditionally, success or
// not. Failures additionally bump the cache counters; a cache error is
// swallowed because the store row already landed.
func (g *Guard) Record(ctx context.Context, identifier, ip string, success bool) error {
	err := g.attempts.RecordLoginAttempt(ctx, &store.LoginAttempt{
		Identifier:  identifier,
		IP:          ip,
		AttemptedAt: g.now(),
		Success:     success,
	})
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}

	if !success && g.cache != nil {
		_ = g.cache.RecordFailure(ctx, identifier, ip, g.policy.IdentifierWindow, g.policy.IPWindow)
	}

	return nil
}
