package authplane

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/vaultline/authplane/cryptobox"
	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/store"
	"github.com/vaultline/authplane/token"
)

// Refresh redeems a refresh token and rotates it: the presented token
// is consumed exactly once and a fresh access+refresh pair is issued
// against the same session.
//
// A token that was already redeemed is treated as stolen. The owning
// session and every refresh token under it are revoked, a critical
// audit event is emitted, and the caller gets [ErrSessionCompromised].
// That path is never silent.
func (e *Engine) Refresh(ctx context.Context, tenantID int64, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}

	payload, err := e.tokens.Decode(refreshToken)
	if err != nil {
		return nil, e.failRefresh(ctx, tenantID, "", mapTokenError(err), "decode_failed")
	}
	claims, ok := payload.(token.Refresh)
	if !ok {
		return nil, e.failRefresh(ctx, tenantID, "", ErrTokenInvalid, "wrong_token_type")
	}
	if claims.TenantID != tenantID {
		return nil, e.failRefresh(ctx, tenantID, claims.SessionID, ErrTenantMismatch, "tenant_mismatch")
	}

	revoked, err := e.store.IsJTIRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revoked {
		return nil, e.failRefresh(ctx, tenantID, claims.SessionID, ErrTokenInvalid, "jti_revoked")
	}

	row, err := e.store.GetRefreshToken(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.failRefresh(ctx, tenantID, claims.SessionID, ErrTokenInvalid, "unknown_jti")
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !cryptobox.DigestEqual(row.TokenHash, cryptobox.TokenDigest(refreshToken)) {
		return nil, e.failRefresh(ctx, tenantID, row.SessionID, ErrTokenInvalid, "hash_mismatch")
	}

	now := e.now()
	if !row.ExpiresAt.After(now) {
		return nil, e.failRefresh(ctx, tenantID, row.SessionID, ErrTokenExpired, "expired")
	}
	if row.UsedAt != nil {
		return nil, e.handleReplay(ctx, claims.UserID, tenantID, row)
	}

	sess, err := e.store.GetSession(ctx, row.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.failRefresh(ctx, tenantID, row.SessionID, ErrTokenInvalid, "session_missing")
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess.Revoked() {
		return nil, e.failRefresh(ctx, tenantID, row.SessionID, ErrTokenInvalid, "session_revoked")
	}

	won, err := e.store.ConsumeRefreshToken(ctx, claims.JTI, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !won {
		// A concurrent redemption set used_at first; this presentation
		// is the replay.
		return nil, e.handleReplay(ctx, claims.UserID, tenantID, row)
	}

	access, err := e.tokens.IssueAccess(sess.UserID, tenantID, sess.ID, now)
	if err != nil {
		return nil, err
	}
	successor, successorJTI, err := e.tokens.IssueRefresh(sess.UserID, tenantID, sess.ID, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateRefreshToken(ctx, &store.RefreshToken{
		JTI:       successorJTI,
		SessionID: sess.ID,
		TokenHash: cryptobox.TokenDigest(successor),
		CreatedAt: now,
		ExpiresAt: now.Add(e.tokens.RefreshTTL()),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.store.SetReplacedBy(ctx, claims.JTI, successorJTI); err != nil {
		log.Print("authplane: refresh chain link update failed")
	}
	if err := e.store.TouchSession(ctx, sess.ID, now); err != nil {
		log.Print("authplane: session touch failed on refresh")
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitInfo(ctx, internalaudit.TypeTokenRefreshed, true, sess.UserID, tenantID, sess.ID, nil, func() map[string]string {
		return map[string]string{
			"jti":           claims.JTI,
			"successor_jti": successorJTI,
		}
	})

	return &TokenPair{AccessToken: access, RefreshToken: successor}, nil
}

// handleReplay revokes the compromised session and its whole redemption
// chain, then reports [ErrSessionCompromised].
func (e *Engine) handleReplay(ctx context.Context, userID, tenantID int64, row *store.RefreshToken) error {
	now := e.now()

	if err := e.store.RevokeSession(ctx, row.SessionID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Print("authplane: session revocation failed during replay handling")
	}

	chain, err := e.store.ListSessionRefreshTokens(ctx, row.SessionID)
	if err != nil {
		log.Print("authplane: refresh chain listing failed during replay handling")
	}
	for _, t := range chain {
		if err := e.store.RevokeJTI(ctx, t.JTI, t.ExpiresAt, now); err != nil {
			log.Print("authplane: refresh jti revocation failed during replay handling")
		}
	}

	e.metricInc(MetricReplayDetected)
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricSessionRevoked)
	e.emitCritical(ctx, internalaudit.TypeTokenReplay, userID, tenantID, row.SessionID, ErrSessionCompromised, func() map[string]string {
		return map[string]string{
			"jti":           row.JTI,
			"chain_revoked": fmt.Sprintf("%d", len(chain)),
		}
	})

	return ErrSessionCompromised
}

func (e *Engine) failRefresh(ctx context.Context, tenantID int64, sessionID string, cause error, reason string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitInfo(ctx, internalaudit.TypeValidationFailure, false, 0, tenantID, sessionID, cause, func() map[string]string {
		return map[string]string{
			"operation": "refresh",
			"reason":    reason,
		}
	})
	return cause
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenInvalid
	}
}
