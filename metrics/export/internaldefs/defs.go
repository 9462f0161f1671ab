package internaldefs

import (
	authplane "github.com/vaultline/authplane"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authplane.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authplane.MetricID
	Name string
	Help string
}

// CounterDefs maps every engine counter to its exported name. Both
// exporters iterate this slice, so output ordering is stable.
var CounterDefs = []CounterDef{
	{ID: authplane.MetricLoginSuccess, Name: "authplane_login_success_total", Help: "Successful login attempts."},
	{ID: authplane.MetricLoginFailure, Name: "authplane_login_failure_total", Help: "Failed login attempts."},
	{ID: authplane.MetricLoginThrottled, Name: "authplane_login_throttled_total", Help: "Login attempts denied by brute-force throttling."},
	{ID: authplane.MetricRefreshSuccess, Name: "authplane_refresh_success_total", Help: "Successful refresh token redemptions."},
	{ID: authplane.MetricRefreshFailure, Name: "authplane_refresh_failure_total", Help: "Failed refresh token redemptions."},
	{ID: authplane.MetricReplayDetected, Name: "authplane_replay_detected_total", Help: "Detected refresh token replays."},
	{ID: authplane.MetricMFAChallengeIssued, Name: "authplane_mfa_challenge_issued_total", Help: "Logins answered with an MFA challenge."},
	{ID: authplane.MetricMFASuccess, Name: "authplane_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: authplane.MetricMFAFailure, Name: "authplane_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: authplane.MetricMFARateLimited, Name: "authplane_mfa_rate_limited_total", Help: "MFA verifications denied by the attempt budget."},
	{ID: authplane.MetricRecoveryCodeUsed, Name: "authplane_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: authplane.MetricSessionCreated, Name: "authplane_session_created_total", Help: "Created sessions."},
	{ID: authplane.MetricSessionRevoked, Name: "authplane_session_revoked_total", Help: "Revoked sessions."},
	{ID: authplane.MetricLogout, Name: "authplane_logout_total", Help: "Single-session logout operations."},
	{ID: authplane.MetricLogoutAll, Name: "authplane_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: authplane.MetricPasswordChangeSuccess, Name: "authplane_password_change_success_total", Help: "Successful password changes."},
	{ID: authplane.MetricPasswordChangeFailure, Name: "authplane_password_change_failure_total", Help: "Failed password changes."},
	{ID: authplane.MetricTokenRevoked, Name: "authplane_token_revoked_total", Help: "Refresh tokens pushed into the revocation registry."},
	{ID: authplane.MetricCleanupRun, Name: "authplane_cleanup_run_total", Help: "Completed cleanup sweeps."},
	{ID: authplane.MetricBruteForceAlert, Name: "authplane_brute_force_alert_total", Help: "Brute-force alert thresholds crossed."},
}

// HistogramDefs maps every engine histogram to its exported name.
var HistogramDefs = []HistogramDef{
	{ID: authplane.MetricValidateLatency, Name: "authplane_validate_latency_seconds", Help: "Access token validation latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's millisecond thresholds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are bound labels usable in instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// eight-bucket shape.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
