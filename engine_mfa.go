package authplane

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/authplane/cryptobox"
	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/internal/bruteforce"
	"github.com/vaultline/authplane/internal/mfa"
	"github.com/vaultline/authplane/store"
	"github.com/vaultline/authplane/token"
)

/* ==================== TOTP ENROLLMENT ==================== */

// SetupTOTP generates a fresh TOTP secret for the user and stores it
// encrypted but not yet enabled. The secret only starts gating logins
// after [Engine.EnableTOTP] confirms the user can produce codes.
//
// Calling SetupTOTP again before enablement replaces the pending
// secret. Once MFA is enabled the call fails with
// [ErrMFAAlreadyEnabled]; disable first to rotate the secret.
func (e *Engine) SetupTOTP(ctx context.Context, tenantID, userID int64) (*MFASetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}
	if e.totp == nil {
		return nil, ErrMFANotConfigured
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	existing, err := e.store.GetMFASecret(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil && existing.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	sealed, err := e.sealer.Seal(raw)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveMFASecret(ctx, &store.MFASecret{
		UserID:          userID,
		EncryptedSecret: sealed,
		Enabled:         false,
		CreatedAt:       e.now(),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &MFASetup{
		Secret: encoded,
		URI:    e.totp.ProvisionURI(encoded, user.Email),
	}, nil
}

// EnableTOTP turns the pending secret on after the user proves they
// can produce a valid code from it. On success a fresh set of recovery
// codes is generated and returned in plaintext; only their digests are
// stored, so this is the one chance to show them.
func (e *Engine) EnableTOTP(ctx context.Context, tenantID, userID int64, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}
	if e.totp == nil {
		return nil, ErrMFANotConfigured
	}

	record, err := e.store.GetMFASecret(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFANotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	if err := e.mfaBudget(ctx, fmt.Sprintf("totp:%d", userID), e.config.TOTP.VerifyMaxPerMinute); err != nil {
		return nil, err
	}

	secret, err := e.sealer.Open(record.EncryptedSecret)
	if err != nil {
		return nil, err
	}
	ok, _, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		return nil, ErrMFAInvalidCode
	}

	if err := e.store.MarkMFAEnabled(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes, err := e.rotateRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.emitInfo(ctx, internalaudit.TypeMFAEnabled, true, userID, tenantID, "", nil, nil)
	return codes, nil
}

// DisableTOTP removes the user's MFA secret and recovery codes. A
// valid current code is required so a hijacked but unauthenticated
// session cannot strip the second factor.
func (e *Engine) DisableTOTP(ctx context.Context, tenantID, userID int64, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if tenantID <= 0 {
		return ErrMissingTenant
	}
	if e.totp == nil {
		return ErrMFANotConfigured
	}

	record, err := e.store.GetMFASecret(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMFANotConfigured
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.mfaBudget(ctx, fmt.Sprintf("totp:%d", userID), e.config.TOTP.VerifyMaxPerMinute); err != nil {
		return err
	}

	secret, err := e.sealer.Open(record.EncryptedSecret)
	if err != nil {
		return err
	}
	ok, _, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		return ErrMFAInvalidCode
	}

	if err := e.store.DeleteMFASecret(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitInfo(ctx, internalaudit.TypeMFADisabled, true, userID, tenantID, "", nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces the user's recovery code set. MFA
// must already be enabled and a valid current code is required.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, tenantID, userID int64, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}
	if e.totp == nil {
		return nil, ErrMFANotConfigured
	}

	record, err := e.store.GetMFASecret(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFANotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !record.Enabled {
		return nil, ErrMFANotConfigured
	}

	if err := e.mfaBudget(ctx, fmt.Sprintf("totp:%d", userID), e.config.TOTP.VerifyMaxPerMinute); err != nil {
		return nil, err
	}

	secret, err := e.sealer.Open(record.EncryptedSecret)
	if err != nil {
		return nil, err
	}
	ok, _, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		return nil, ErrMFAInvalidCode
	}

	return e.rotateRecoveryCodes(ctx, userID)
}

func (e *Engine) rotateRecoveryCodes(ctx context.Context, userID int64) ([]string, error) {
	codes, err := mfa.GenerateRecoveryCodes(e.config.TOTP.RecoveryCodeCount, e.config.TOTP.RecoveryCodeLength)
	if err != nil {
		return nil, err
	}
	rows := make([]*store.MFARecoveryCode, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, &store.MFARecoveryCode{
			ID:       uuid.NewString(),
			UserID:   userID,
			CodeHash: cryptobox.TokenDigest(mfa.NormalizeRecoveryCode(c)),
		})
	}
	if err := e.store.ReplaceRecoveryCodes(ctx, userID, rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return codes, nil
}

/* ==================== MFA CHALLENGE COMPLETION ==================== */

// VerifyMFA completes a login that was answered with MFARequired. It
// accepts the short-lived MFA session token from [Engine.Login] plus
// either a current TOTP code or an unused recovery code, and opens the
// session on success.
//
// Code checks are budgeted per user per minute; exhausting the budget
// returns [ErrMFARateLimited] without evaluating the code.
func (e *Engine) VerifyMFA(ctx context.Context, tenantID int64, mfaSessionToken, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}
	if e.totp == nil {
		return nil, ErrMFANotConfigured
	}

	payload, err := e.tokens.Decode(mfaSessionToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	claims, ok := payload.(token.MFASession)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if claims.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	record, err := e.store.GetMFASecret(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFANotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !record.Enabled {
		return nil, ErrMFANotConfigured
	}

	// A TOTP match is attempted first; recovery codes are the fallback.
	// Length alone cannot route the code: with 8-digit TOTP and 8-char
	// recovery codes both interpretations are plausible, and a numeric
	// recovery code is indistinguishable from a TOTP code up front.
	trimmed := strings.TrimSpace(code)
	normalized := mfa.NormalizeRecoveryCode(code)
	tryTOTP := len(trimmed) == e.config.TOTP.Digits
	tryRecovery := len(normalized) == e.config.TOTP.RecoveryCodeLength

	var verified, usedRecovery bool

	if tryTOTP || !tryRecovery {
		if err := e.mfaBudget(ctx, fmt.Sprintf("totp:%d", claims.UserID), e.config.TOTP.VerifyMaxPerMinute); err != nil {
			e.emitInfo(ctx, internalaudit.TypeMFAFailure, false, claims.UserID, tenantID, "", err, nil)
			return nil, err
		}
		secret, openErr := e.sealer.Open(record.EncryptedSecret)
		if openErr != nil {
			return nil, openErr
		}
		verified, _, err = e.totp.VerifyCode(secret, trimmed, e.now())
		if err != nil {
			return nil, err
		}
	}

	if !verified && tryRecovery {
		if err := e.mfaBudget(ctx, fmt.Sprintf("recovery:%d", claims.UserID), e.config.TOTP.RecoveryMaxPerMinute); err != nil {
			e.emitInfo(ctx, internalaudit.TypeMFAFailure, false, claims.UserID, tenantID, "", err, nil)
			return nil, err
		}
		verified, err = e.consumeRecoveryCode(ctx, claims.UserID, normalized)
		if err != nil {
			return nil, err
		}
		usedRecovery = verified
	}

	if !verified {
		e.metricInc(MetricMFAFailure)
		e.emitInfo(ctx, internalaudit.TypeMFAFailure, false, claims.UserID, tenantID, "", ErrMFAInvalidCode, nil)
		e.recordMFAFailure(ctx, claims.UserID)
		return nil, ErrMFAInvalidCode
	}

	result, err := e.openSession(ctx, claims.UserID, tenantID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	if usedRecovery {
		e.metricInc(MetricRecoveryCodeUsed)
		e.emitInfo(ctx, internalaudit.TypeRecoveryCodeUsed, true, claims.UserID, tenantID, result.SessionID, nil, nil)
	}
	e.emitInfo(ctx, internalaudit.TypeMFAVerified, true, claims.UserID, tenantID, result.SessionID, nil, nil)
	return result, nil
}

// mfaBudget enforces the per-user code attempt budget. A cache outage
// fails open; the budget is an abuse brake, not the lockout authority.
func (e *Engine) mfaBudget(ctx context.Context, key string, limit int) error {
	if e.cache == nil || limit <= 0 {
		return nil
	}
	err := e.cache.Hit(ctx, key, time.Minute, limit)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bruteforce.ErrRateLimited):
		e.metricInc(MetricMFARateLimited)
		return ErrMFARateLimited
	default:
		log.Print("authplane: mfa attempt budget check failed")
		return nil
	}
}

// consumeRecoveryCode burns the matching unused recovery code. The
// consume is a compare-and-set so a code presented twice concurrently
// succeeds at most once.
func (e *Engine) consumeRecoveryCode(ctx context.Context, userID int64, normalized string) (bool, error) {
	rows, err := e.store.ListRecoveryCodes(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	digest := cryptobox.TokenDigest(normalized)
	for _, row := range rows {
		if row.UsedAt != nil {
			continue
		}
		if !cryptobox.DigestEqual(row.CodeHash, digest) {
			continue
		}
		consumed, err := e.store.ConsumeRecoveryCode(ctx, row.ID, e.now())
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return consumed, nil
	}
	return false, nil
}

// recordMFAFailure optionally folds MFA code failures into the login
// throttling counters for the user's identifier.
func (e *Engine) recordMFAFailure(ctx context.Context, userID int64) {
	if !e.config.BruteForce.CountMFAChallenge || e.guard == nil {
		return
	}
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return
	}
	e.recordAttempt(ctx, user.Email, clientIPFromContext(ctx), false)
}
