package store

import "time"

// Session is one authenticated device/browser binding. Sessions are
// never deleted, only revoked; RevokedAt is terminal once set.
type Session struct {
	ID         string
	UserID     int64
	TenantID   int64
	CreatedAt  time.Time
	LastSeenAt time.Time
	IP         string
	UserAgent  string
	RevokedAt  *time.Time
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s != nil && s.RevokedAt != nil
}

// RefreshToken is one link in a session's redemption chain. UsedAt is
// set exactly once; ReplacedByJTI points forward to the successor and
// is never repointed.
type RefreshToken struct {
	JTI           string
	SessionID     string
	TokenHash     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	ReplacedByJTI string
}

// Live reports whether the token is still redeemable at the given time.
func (t *RefreshToken) Live(now time.Time) bool {
	return t != nil && t.UsedAt == nil && t.ExpiresAt.After(now)
}

// RevokedToken is a registry entry blacklisting a token id until its
// natural expiry, after which cleanup may remove the row.
type RevokedToken struct {
	JTI       string
	ExpiresAt time.Time
	RevokedAt time.Time
}

// LoginAttempt is one append-only audit row. Rows are never mutated;
// retention cleanup is the only delete path.
type LoginAttempt struct {
	ID          int64
	Identifier  string
	IP          string
	AttemptedAt time.Time
	Success     bool
}

// MFASecret holds one user's encrypted TOTP seed. The secret material
// is sealed with AES-256-GCM before it reaches the store.
type MFASecret struct {
	UserID          int64
	EncryptedSecret string
	Enabled         bool
	CreatedAt       time.Time
}

// MFARecoveryCode is a single-use backup credential, stored as a
// SHA-256 digest. UsedAt is set exactly once on consumption.
type MFARecoveryCode struct {
	ID       string
	UserID   int64
	CodeHash string
	UsedAt   *time.Time
}
