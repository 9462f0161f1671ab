package authplane

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingTenant indicates the caller omitted the tenant scope.
	ErrMissingTenant = errors.New("tenant not specified")
	// ErrInvalidCredentials indicates the identifier+password pair did not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockedOut indicates the brute-force guard denied the attempt.
	ErrLockedOut = errors.New("too many failed attempts")
	// ErrSessionCompromised indicates refresh token replay was detected and the session revoked.
	ErrSessionCompromised = errors.New("session compromised: refresh token replay detected")
	// ErrTokenInvalid indicates a token with a bad signature, unknown jti, or wrong scope.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed indicates a token whose claims fail structural validation.
	ErrTokenMalformed = errors.New("malformed token claims")
	// ErrTenantMismatch indicates the token's tenant does not match the requested tenant.
	ErrTenantMismatch = errors.New("token tenant mismatch")
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked indicates the referenced session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrMFARequired indicates the user has MFA enabled and must complete the challenge.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFANotConfigured indicates no TOTP secret exists for the user.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAAlreadyEnabled indicates TOTP is already active for the user.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFAInvalidCode indicates a TOTP or recovery code that did not verify.
	ErrMFAInvalidCode = errors.New("invalid mfa code")
	// ErrMFARateLimited indicates the MFA verification budget is exhausted.
	ErrMFARateLimited = errors.New("mfa attempts rate limited")
	// ErrPasswordPolicy indicates the new password fails the minimum policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrEngineNotReady indicates Build was not called or failed.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable indicates the backing store could not serve the request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// LockoutError carries the escalation details behind [ErrLockedOut].
// errors.Is(err, ErrLockedOut) matches it.
type LockoutError struct {
	Wait           time.Duration
	RequireCaptcha bool
	Alert          bool
	Reason         string
}

func (e *LockoutError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("too many failed attempts: retry after %s", e.Wait)
	}
	return "too many failed attempts"
}

func (e *LockoutError) Unwrap() error { return ErrLockedOut }

// FailureClass partitions engine errors for transport layers: client
// faults map to 4xx-style handling, authentication faults to 401/403,
// and everything else to server faults.
type FailureClass int

const (
	FailureServer FailureClass = iota
	FailureClient
	FailureAuthentication
	FailureThrottled
)

// Classify maps an engine error onto its [FailureClass]. Unknown errors
// are server faults; the engine never leaks whether a user exists
// through classification.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureServer
	case errors.Is(err, ErrLockedOut), errors.Is(err, ErrMFARateLimited):
		return FailureThrottled
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTenantMismatch),
		errors.Is(err, ErrSessionCompromised),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrMFARequired),
		errors.Is(err, ErrMFAInvalidCode):
		return FailureAuthentication
	case errors.Is(err, ErrMissingTenant),
		errors.Is(err, ErrMFANotConfigured),
		errors.Is(err, ErrMFAAlreadyEnabled),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrSessionNotFound):
		return FailureClient
	default:
		return FailureServer
	}
}
