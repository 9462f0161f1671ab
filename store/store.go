package store

import (
	"context"
	"time"
)

// SessionStore provides session CRUD, liveness, and bulk revocation.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// TouchSession updates LastSeenAt. It is best-effort at call sites;
	// a failure must not abort the surrounding flow.
	TouchSession(ctx context.Context, id string, at time.Time) error
	// RevokeSession sets RevokedAt once. Revoking an already-revoked
	// session is a no-op, not an error.
	RevokeSession(ctx context.Context, id string, at time.Time) error
	// RevokeUserSessions revokes every live session of the user in the
	// tenant except exceptID (empty means no exception). Returns the
	// number of sessions revoked.
	RevokeUserSessions(ctx context.Context, tenantID, userID int64, exceptID string, at time.Time) (int64, error)
	// ListUserSessions returns every session of the user in the tenant,
	// revoked ones included, newest first.
	ListUserSessions(ctx context.Context, tenantID, userID int64) ([]*Session, error)
}

// RefreshTokenStore persists the single-use redemption chain.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error)
	// ConsumeRefreshToken sets UsedAt only if it is still unset: a
	// compare-and-set. Exactly one concurrent caller observes true.
	ConsumeRefreshToken(ctx context.Context, jti string, at time.Time) (bool, error)
	// SetReplacedBy records the successor jti on a consumed token.
	SetReplacedBy(ctx context.Context, jti, successorJTI string) error
	// ListSessionRefreshTokens returns every token ever issued under the
	// session, newest first.
	ListSessionRefreshTokens(ctx context.Context, sessionID string) ([]*RefreshToken, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// RevocationStore is the blacklist of revoked token ids.
type RevocationStore interface {
	// RevokeJTI inserts a revocation entry; repeating the call for the
	// same jti is idempotent.
	RevokeJTI(ctx context.Context, jti string, tokenExpiresAt, at time.Time) error
	IsJTIRevoked(ctx context.Context, jti string) (bool, error)
	DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptStore is the append-only attempt log backing the
// brute-force windows. The log is authoritative for lockout decisions.
type LoginAttemptStore interface {
	RecordLoginAttempt(ctx context.Context, a *LoginAttempt) error
	CountIdentifierFailures(ctx context.Context, identifier string, since time.Time) (int, error)
	CountIPFailures(ctx context.Context, ip string, since time.Time) (int, error)
	DeleteLoginAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MFAStore persists encrypted TOTP secrets and hashed recovery codes.
type MFAStore interface {
	GetMFASecret(ctx context.Context, userID int64) (*MFASecret, error)
	// SaveMFASecret upserts the (not yet enabled) secret for the user.
	SaveMFASecret(ctx context.Context, s *MFASecret) error
	MarkMFAEnabled(ctx context.Context, userID int64) error
	// DeleteMFASecret removes the secret and all recovery codes.
	DeleteMFASecret(ctx context.Context, userID int64) error
	// ReplaceRecoveryCodes atomically swaps the user's recovery code set.
	ReplaceRecoveryCodes(ctx context.Context, userID int64, codes []*MFARecoveryCode) error
	ListRecoveryCodes(ctx context.Context, userID int64) ([]*MFARecoveryCode, error)
	// ConsumeRecoveryCode sets UsedAt only if it is still unset. A code
	// that was already consumed returns false.
	ConsumeRecoveryCode(ctx context.Context, id string, at time.Time) (bool, error)
}

// Store aggregates the five persistence contracts the engine consumes.
type Store interface {
	SessionStore
	RefreshTokenStore
	RevocationStore
	LoginAttemptStore
	MFAStore
}
