package authplane

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in the in-process
// metrics set.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins, including MFA completions.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential verification failures.
	MetricLoginFailure
	// MetricLoginThrottled counts logins denied by the brute-force guard.
	MetricLoginThrottled
	// MetricRefreshSuccess counts successful refresh token rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricReplayDetected counts refresh token replay incidents.
	MetricReplayDetected
	// MetricMFAChallengeIssued counts logins deferred to an MFA challenge.
	MetricMFAChallengeIssued
	// MetricMFASuccess counts verified MFA codes.
	MetricMFASuccess
	// MetricMFAFailure counts rejected MFA codes.
	MetricMFAFailure
	// MetricMFARateLimited counts MFA verifications denied by the budget.
	MetricMFARateLimited
	// MetricRecoveryCodeUsed counts consumed recovery codes.
	MetricRecoveryCodeUsed
	// MetricSessionCreated counts sessions created at login.
	MetricSessionCreated
	// MetricSessionRevoked counts sessions revoked by any path.
	MetricSessionRevoked
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts logout-everywhere operations.
	MetricLogoutAll
	// MetricPasswordChangeSuccess counts completed password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeFailure counts password changes rejected on the old password.
	MetricPasswordChangeFailure
	// MetricTokenRevoked counts access token jtis added to the revocation registry.
	MetricTokenRevoked
	// MetricCleanupRun counts retention sweeps.
	MetricCleanupRun
	// MetricBruteForceAlert counts alert-level escalation decisions.
	MetricBruteForceAlert
	// MetricValidateLatency is the access-token validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds per-operation atomic counters and an optional latency
// histogram for Validate. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance. When cfg.Enabled is false
// every operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only [MetricValidateLatency] has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a consistent-enough copy of all counters and the
// validate latency histogram. Counters are read individually, not
// atomically as a group.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
