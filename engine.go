package authplane

import (
	"time"

	"github.com/vaultline/authplane/cryptobox"
	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/internal/bruteforce"
	"github.com/vaultline/authplane/internal/mfa"
	"github.com/vaultline/authplane/store"
	"github.com/vaultline/authplane/token"
)

// Engine is the identity and session layer. Construct it with
// [Builder.Build]; the zero value is not usable.
//
// All operations take the tenant explicitly. The engine never infers
// tenancy from ambient state, and a zero tenant is a client error.
type Engine struct {
	config Config

	store store.Store
	users UserDirectory

	tokens *token.Manager
	hasher *cryptobox.Hasher
	sealer *cryptobox.Sealer
	totp   *mfa.TOTPManager
	guard  *bruteforce.Guard
	cache  *bruteforce.Cache

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	// fixed-cost argon2 target for unknown identifiers
	dummyHash string

	nowFn func() time.Time
}

func (e *Engine) now() time.Time {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now()
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.users != nil &&
		e.tokens != nil && e.hasher != nil && e.sealer != nil
}
