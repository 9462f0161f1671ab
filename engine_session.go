package authplane

import (
	"context"
	"errors"
	"fmt"
	"log"

	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/store"
	"github.com/vaultline/authplane/token"
)

/* ==================== ACCESS TOKEN VALIDATION ==================== */

// Validate checks an access token and confirms its session is still
// alive. It is the hot path: one signature check plus one session read.
func (e *Engine) Validate(ctx context.Context, tenantID int64, accessToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	}()

	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}

	payload, err := e.tokens.Decode(accessToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	claims, ok := payload.(token.Access)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if claims.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	sess, err := e.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess.Revoked() {
		return nil, ErrSessionRevoked
	}

	if err := e.store.TouchSession(ctx, sess.ID, e.now()); err != nil {
		log.Print("authplane: session touch failed on validate")
	}

	return &AuthResult{
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		SessionID: claims.SessionID,
	}, nil
}

/* ==================== SESSION LIFECYCLE ==================== */

// Logout revokes a single session and every refresh token issued under
// it. Revoking an already revoked session is a no-op, not an error.
func (e *Engine) Logout(ctx context.Context, tenantID int64, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if tenantID <= 0 {
		return ErrMissingTenant
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess.TenantID != tenantID {
		return ErrTenantMismatch
	}

	if err := e.revokeSessionTokens(ctx, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	e.emitInfo(ctx, internalaudit.TypeLogout, true, sess.UserID, tenantID, sessionID, nil, nil)
	return nil
}

// LogoutEverywhere revokes all of a user's sessions in the tenant,
// optionally sparing the one the request came from.
func (e *Engine) LogoutEverywhere(ctx context.Context, tenantID, userID int64, exceptSessionID string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return 0, ErrMissingTenant
	}

	revoked, err := e.revokeUserSessions(ctx, tenantID, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitInfo(ctx, internalaudit.TypeLogoutEverywhere, true, userID, tenantID, exceptSessionID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)}
	})
	return revoked, nil
}

// RevokeSession revokes one session by ID without the tenant's user
// having initiated it, for administrative use.
func (e *Engine) RevokeSession(ctx context.Context, tenantID int64, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if tenantID <= 0 {
		return ErrMissingTenant
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess.TenantID != tenantID {
		return ErrTenantMismatch
	}

	if err := e.revokeSessionTokens(ctx, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricSessionRevoked)
	e.emitInfo(ctx, internalaudit.TypeSessionRevoked, true, sess.UserID, tenantID, sessionID, nil, nil)
	return nil
}

// revokeSessionTokens revokes the session row and pushes every refresh
// jti under it into the revocation registry.
func (e *Engine) revokeSessionTokens(ctx context.Context, sessionID string) error {
	now := e.now()
	if err := e.store.RevokeSession(ctx, sessionID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	chain, err := e.store.ListSessionRefreshTokens(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, t := range chain {
		if err := e.store.RevokeJTI(ctx, t.JTI, t.ExpiresAt, now); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// revokeUserSessions revokes all the user's live sessions except the
// named one, including their refresh chains.
func (e *Engine) revokeUserSessions(ctx context.Context, tenantID, userID int64, exceptSessionID string) (int64, error) {
	sessions, err := e.store.ListUserSessions(ctx, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var revoked int64
	for _, sess := range sessions {
		if sess.ID == exceptSessionID || sess.Revoked() {
			continue
		}
		if err := e.revokeSessionTokens(ctx, sess.ID); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

/* ==================== PASSWORD CHANGE ==================== */

// ChangePassword verifies the current password, installs the new hash
// through the user directory, and revokes every other session the user
// holds. The calling session stays valid.
func (e *Engine) ChangePassword(ctx context.Context, tenantID, userID int64, currentSessionID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if tenantID <= 0 {
		return ErrMissingTenant
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return ErrInvalidCredentials
	}
	if user.TenantID != tenantID {
		e.metricInc(MetricPasswordChangeFailure)
		return ErrTenantMismatch
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitInfo(ctx, internalaudit.TypePasswordChanged, false, userID, tenantID, currentSessionID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := e.revokeUserSessions(ctx, tenantID, userID, currentSessionID); err != nil {
		log.Print("authplane: session sweep failed after password change")
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitInfo(ctx, internalaudit.TypePasswordChanged, true, userID, tenantID, currentSessionID, nil, nil)
	return nil
}

/* ==================== TOKEN REVOCATION ==================== */

// RevokeToken pushes a refresh token's jti into the revocation
// registry without touching its session. The registry entry lives as
// long as the token would have.
func (e *Engine) RevokeToken(ctx context.Context, tenantID int64, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if tenantID <= 0 {
		return ErrMissingTenant
	}

	payload, err := e.tokens.Decode(refreshToken)
	if err != nil {
		return mapTokenError(err)
	}
	claims, ok := payload.(token.Refresh)
	if !ok {
		return ErrTokenInvalid
	}
	if claims.TenantID != tenantID {
		return ErrTenantMismatch
	}

	if err := e.store.RevokeJTI(ctx, claims.JTI, claims.ExpiresAt, e.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitInfo(ctx, internalaudit.TypeTokenRevoked, true, claims.UserID, tenantID, claims.SessionID, nil, func() map[string]string {
		return map[string]string{"jti": claims.JTI}
	})
	return nil
}

// IsTokenRevoked reports whether a refresh jti sits in the revocation
// registry.
func (e *Engine) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	revoked, err := e.store.IsJTIRevoked(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return revoked, nil
}
