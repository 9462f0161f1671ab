package authplane

import (
	"context"
	"io"

	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/internal/bruteforce"
)

// UserDirectory is the interface callers implement to connect the
// engine to their user database. The engine never creates or deletes
// users; it only reads credentials and writes upgraded password hashes.
type UserDirectory interface {
	// GetByEmail returns the user for the tenant-scoped email address.
	// A missing user is an error; the engine hides the distinction from
	// callers behind timing-safe verification.
	GetByEmail(ctx context.Context, tenantID int64, email string) (*UserRecord, error)
	GetByID(ctx context.Context, userID int64) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
}

// UserRecord is the minimal account record the engine needs.
type UserRecord struct {
	ID           int64
	TenantID     int64
	Email        string
	PasswordHash string
}

// TokenPair carries a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login] and [Engine.VerifyMFA].
// Either the token pair is set, or MFARequired is true and
// MFASessionToken carries the short-lived challenge token; never both.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string

	MFARequired     bool
	MFASessionToken string
}

// AuthResult is returned by [Engine.Validate] for a valid access token.
type AuthResult struct {
	UserID    int64
	TenantID  int64
	SessionID string
}

// MFASetup is returned by [Engine.SetupTOTP]. Secret is the
// base32-encoded TOTP secret; URI is the otpauth:// provisioning URI.
// Neither is ever stored in clear.
type MFASetup struct {
	Secret string
	URI    string
}

// CleanupReport summarizes one retention sweep.
type CleanupReport struct {
	ExpiredRefreshTokens int64
	ExpiredRevocations   int64
	StaleLoginAttempts   int64
}

// ThrottleDecision is the brute-force guard's answer for an attempt.
type ThrottleDecision = bruteforce.Decision

type bruteForcePolicy = bruteforce.Policy

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// Severities carried on [AuditEvent].
const (
	SeverityInfo     = internalaudit.SeverityInfo
	SeverityCritical = internalaudit.SeverityCritical
)

// Event types carried on [AuditEvent].
const (
	TypeLoginSuccess      = internalaudit.TypeLoginSuccess
	TypeLoginFailure      = internalaudit.TypeLoginFailure
	TypeLoginThrottled    = internalaudit.TypeLoginThrottled
	TypeMFAChallenge      = internalaudit.TypeMFAChallenge
	TypeMFAVerified       = internalaudit.TypeMFAVerified
	TypeMFAFailure        = internalaudit.TypeMFAFailure
	TypeMFAEnabled        = internalaudit.TypeMFAEnabled
	TypeMFADisabled       = internalaudit.TypeMFADisabled
	TypeRecoveryCodeUsed  = internalaudit.TypeRecoveryCodeUsed
	TypeTokenRefreshed    = internalaudit.TypeTokenRefreshed
	TypeTokenReplay       = internalaudit.TypeTokenReplay
	TypeLogout            = internalaudit.TypeLogout
	TypeLogoutEverywhere  = internalaudit.TypeLogoutEverywhere
	TypePasswordChanged   = internalaudit.TypePasswordChanged
	TypeSessionRevoked    = internalaudit.TypeSessionRevoked
	TypeCleanupRun        = internalaudit.TypeCleanupRun
	TypeBruteForceAlert   = internalaudit.TypeBruteForceAlert
	TypeTokenRevoked      = internalaudit.TypeTokenRevoked
	TypeValidationFailure = internalaudit.TypeValidationFailure
)

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
