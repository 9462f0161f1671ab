package authplane

import (
	"context"
	"fmt"
	"log"
	"time"

	internalaudit "github.com/vaultline/authplane/internal/audit"
)

// RunCleanup sweeps expired refresh tokens, expired revocation entries,
// and login attempts older than the retention window. It is safe to run
// concurrently with normal traffic and from multiple processes; every
// delete is bounded by timestamps.
func (e *Engine) RunCleanup(ctx context.Context) (CleanupReport, error) {
	if !e.ready() {
		return CleanupReport{}, ErrEngineNotReady
	}
	now := e.now()
	var report CleanupReport

	tokens, err := e.store.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	report.ExpiredRefreshTokens = tokens

	revocations, err := e.store.DeleteExpiredRevocations(ctx, now)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	report.ExpiredRevocations = revocations

	attempts, err := e.store.DeleteLoginAttemptsBefore(ctx, now.Add(-e.config.Cleanup.AttemptRetention))
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	report.StaleLoginAttempts = attempts

	e.metricInc(MetricCleanupRun)
	e.emitInfo(ctx, internalaudit.TypeCleanupRun, true, 0, 0, "", nil, func() map[string]string {
		return map[string]string{
			"refresh_tokens": fmt.Sprintf("%d", report.ExpiredRefreshTokens),
			"revocations":    fmt.Sprintf("%d", report.ExpiredRevocations),
			"login_attempts": fmt.Sprintf("%d", report.StaleLoginAttempts),
		}
	})
	return report, nil
}

// StartCleanup runs [Engine.RunCleanup] on the configured interval
// until ctx is cancelled. The first sweep happens after one interval,
// not immediately. The returned channel closes when the loop exits.
func (e *Engine) StartCleanup(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	interval := e.config.Cleanup.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.RunCleanup(ctx); err != nil {
					log.Print("authplane: scheduled cleanup failed")
				}
			}
		}
	}()
	return done
}
