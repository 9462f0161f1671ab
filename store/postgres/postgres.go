// Package postgres implements store.Store on PostgreSQL via the pgx
// stdlib driver. Every security-relevant transition is a single
// conditional UPDATE, so concurrent callers race on row state instead
// of locks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vaultline/authplane/store"
)

// Store implements store.Store over a *sql.DB.
type Store struct {
	db *sql.DB
}

// Open connects to the given Postgres DSN and verifies the connection.
// The caller owns the returned store and must call Close.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// CreateSession implements store.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, tenant_id, created_at, last_seen_at, ip, user_agent, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)`,
		sess.ID, sess.UserID, sess.TenantID, sess.CreatedAt, sess.LastSeenAt, sess.IP, sess.UserAgent,
	)
	return wrapErr(err)
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tenant_id, created_at, last_seen_at, ip, user_agent, revoked_at
		FROM sessions WHERE id = $1`, id)

	var sess store.Session
	var revokedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TenantID, &sess.CreatedAt,
		&sess.LastSeenAt, &sess.IP, &sess.UserAgent, &revokedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	if revokedAt.Valid {
		sess.RevokedAt = &revokedAt.Time
	}
	return &sess, nil
}

// TouchSession implements store.SessionStore.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return wrapErr(err)
}

// RevokeSession implements store.SessionStore. The revoked_at column is
// written only while still NULL, so the timestamp is terminal.
func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return wrapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either already revoked (fine) or missing.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return wrapErr(err)
		}
		if !exists {
			return store.ErrNotFound
		}
	}
	return nil
}

// RevokeUserSessions implements store.SessionStore.
func (s *Store) RevokeUserSessions(ctx context.Context, tenantID, userID int64, exceptID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $4
		WHERE tenant_id = $1 AND user_id = $2 AND id <> $3 AND revoked_at IS NULL`,
		tenantID, userID, exceptID, at)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

// ListUserSessions implements store.SessionStore.
func (s *Store) ListUserSessions(ctx context.Context, tenantID, userID int64) ([]*store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tenant_id, created_at, last_seen_at, ip, user_agent, revoked_at
		FROM sessions WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at DESC`,
		tenantID, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		var sess store.Session
		var revokedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.TenantID, &sess.CreatedAt,
			&sess.LastSeenAt, &sess.IP, &sess.UserAgent, &revokedAt); err != nil {
			return nil, wrapErr(err)
		}
		if revokedAt.Valid {
			sess.RevokedAt = &revokedAt.Time
		}
		out = append(out, &sess)
	}
	return out, wrapErr(rows.Err())
}

// CreateRefreshToken implements store.RefreshTokenStore. The partial
// unique index on (session_id) WHERE used_at IS NULL surfaces as
// ErrDuplicate if a live token already exists for the session.
func (s *Store) CreateRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, session_id, token_hash, created_at, expires_at, used_at, replaced_by_jti)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL)`,
		t.JTI, t.SessionID, t.TokenHash, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return wrapErr(err)
	}
	return nil
}

// GetRefreshToken implements store.RefreshTokenStore.
func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*store.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT jti, session_id, token_hash, created_at, expires_at, used_at, replaced_by_jti
		FROM refresh_tokens WHERE jti = $1`, jti)
	return scanRefreshToken(row)
}

// ConsumeRefreshToken implements store.RefreshTokenStore. The WHERE
// used_at IS NULL predicate is the compare-and-set: exactly one racer
// affects a row.
func (s *Store) ConsumeRefreshToken(ctx context.Context, jti string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET used_at = $2 WHERE jti = $1 AND used_at IS NULL`, jti, at)
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE jti = $1)`, jti).Scan(&exists); err != nil {
			return false, wrapErr(err)
		}
		if !exists {
			return false, store.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

// SetReplacedBy implements store.RefreshTokenStore. A chain link is
// written once and never repointed.
func (s *Store) SetReplacedBy(ctx context.Context, jti, successorJTI string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET replaced_by_jti = $2
		WHERE jti = $1 AND replaced_by_jti IS NULL`, jti, successorJTI)
	return wrapErr(err)
}

// ListSessionRefreshTokens implements store.RefreshTokenStore.
func (s *Store) ListSessionRefreshTokens(ctx context.Context, sessionID string) ([]*store.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jti, session_id, token_hash, created_at, expires_at, used_at, replaced_by_jti
		FROM refresh_tokens WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*store.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

// DeleteExpiredRefreshTokens implements store.RefreshTokenStore.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

// RevokeJTI implements store.RevocationStore.
func (s *Store) RevokeJTI(ctx context.Context, jti string, tokenExpiresAt, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING`, jti, tokenExpiresAt, at)
	return wrapErr(err)
}

// IsJTIRevoked implements store.RevocationStore.
func (s *Store) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&revoked)
	return revoked, wrapErr(err)
}

// DeleteExpiredRevocations implements store.RevocationStore.
func (s *Store) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

// RecordLoginAttempt implements store.LoginAttemptStore.
func (s *Store) RecordLoginAttempt(ctx context.Context, a *store.LoginAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (identifier, ip, attempted_at, success)
		VALUES ($1, $2, $3, $4)`,
		a.Identifier, a.IP, a.AttemptedAt, a.Success)
	return wrapErr(err)
}

// CountIdentifierFailures implements store.LoginAttemptStore.
func (s *Store) CountIdentifierFailures(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND attempted_at > $2 AND success = FALSE`,
		identifier, since).Scan(&count)
	return count, wrapErr(err)
}

// CountIPFailures implements store.LoginAttemptStore.
func (s *Store) CountIPFailures(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip = $1 AND attempted_at > $2 AND success = FALSE`,
		ip, since).Scan(&count)
	return count, wrapErr(err)
}

// DeleteLoginAttemptsBefore implements store.LoginAttemptStore.
func (s *Store) DeleteLoginAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, wrapErr(err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr(err)
}

// GetMFASecret implements store.MFAStore.
func (s *Store) GetMFASecret(ctx context.Context, userID int64) (*store.MFASecret, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, encrypted_secret, enabled, created_at
		FROM mfa_secrets WHERE user_id = $1`, userID)

	var sec store.MFASecret
	if err := row.Scan(&sec.UserID, &sec.EncryptedSecret, &sec.Enabled, &sec.CreatedAt); err != nil {
		return nil, wrapErr(err)
	}
	return &sec, nil
}

// SaveMFASecret implements store.MFAStore.
func (s *Store) SaveMFASecret(ctx context.Context, sec *store.MFASecret) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mfa_secrets (user_id, encrypted_secret, enabled, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET encrypted_secret = EXCLUDED.encrypted_secret,
		    enabled = EXCLUDED.enabled,
		    created_at = EXCLUDED.created_at`,
		sec.UserID, sec.EncryptedSecret, sec.Enabled, sec.CreatedAt)
	return wrapErr(err)
}

// MarkMFAEnabled implements store.MFAStore.
func (s *Store) MarkMFAEnabled(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mfa_secrets SET enabled = TRUE WHERE user_id = $1`, userID)
	if err != nil {
		return wrapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMFASecret implements store.MFAStore.
func (s *Store) DeleteMFASecret(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return wrapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_secrets WHERE user_id = $1`, userID); err != nil {
		return wrapErr(err)
	}
	return wrapErr(tx.Commit())
}

// ReplaceRecoveryCodes implements store.MFAStore.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID int64, codes []*store.MFARecoveryCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return wrapErr(err)
	}
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mfa_recovery_codes (id, user_id, code_hash, used_at)
			VALUES ($1, $2, $3, NULL)`, c.ID, c.UserID, c.CodeHash); err != nil {
			return wrapErr(err)
		}
	}
	return wrapErr(tx.Commit())
}

// ListRecoveryCodes implements store.MFAStore.
func (s *Store) ListRecoveryCodes(ctx context.Context, userID int64) ([]*store.MFARecoveryCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, code_hash, used_at
		FROM mfa_recovery_codes WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*store.MFARecoveryCode
	for rows.Next() {
		var c store.MFARecoveryCode
		var usedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &usedAt); err != nil {
			return nil, wrapErr(err)
		}
		if usedAt.Valid {
			c.UsedAt = &usedAt.Time
		}
		out = append(out, &c)
	}
	return out, wrapErr(rows.Err())
}

// ConsumeRecoveryCode implements store.MFAStore. Same compare-and-set
// shape as refresh token consumption.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mfa_recovery_codes SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (*store.RefreshToken, error) {
	var t store.RefreshToken
	var usedAt sql.NullTime
	var replacedBy sql.NullString
	err := row.Scan(&t.JTI, &t.SessionID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &usedAt, &replacedBy)
	if err != nil {
		return nil, wrapErr(err)
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	if replacedBy.Valid {
		t.ReplacedByJTI = replacedBy.String
	}
	return &t, nil
}
