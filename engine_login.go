package authplane

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/vaultline/authplane/cryptobox"
	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/store"
)

// Login authenticates the identifier+password pair inside the tenant.
// On success it either returns a token pair bound to a new session, or,
// when the user has MFA enabled, an MFA session token the caller must
// complete via [Engine.VerifyMFA].
//
// The failure path is timing-safe: unknown identifier and wrong
// password cost one argon2 verification each, and both surface as
// [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, tenantID int64, email, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}

	email = strings.ToLower(strings.TrimSpace(email))
	ip := clientIPFromContext(ctx)

	if e.guard != nil {
		decision, err := e.guard.Check(ctx, email, ip)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !decision.Allowed {
			e.metricInc(MetricLoginThrottled)
			if decision.Alert {
				e.metricInc(MetricBruteForceAlert)
				e.emitCritical(ctx, internalaudit.TypeBruteForceAlert, 0, tenantID, "", ErrLockedOut, func() map[string]string {
					return map[string]string{
						"identifier": email,
						"reason":     decision.Reason,
					}
				})
			}
			e.emitInfo(ctx, internalaudit.TypeLoginThrottled, false, 0, tenantID, "", ErrLockedOut, func() map[string]string {
				return map[string]string{
					"identifier": email,
					"reason":     decision.Reason,
				}
			})
			return nil, &LockoutError{
				Wait:           decision.Wait,
				RequireCaptcha: decision.RequireCaptcha,
				Alert:          decision.Alert,
				Reason:         decision.Reason,
			}
		}
	}

	user, err := e.users.GetByEmail(ctx, tenantID, email)
	if err != nil {
		// Burn an equivalent verification so a missing account is not
		// distinguishable from a wrong password by response time.
		_, _ = e.hasher.Verify(password, e.dummyHash)
		return nil, e.failLogin(ctx, tenantID, 0, email, "user_not_found")
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, tenantID, user.ID, email, "password_mismatch")
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := e.hasher.Hash(password); err == nil {
				// Best-effort; a failed rehash must not block login.
				if err := e.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
					log.Print("authplane: password hash upgrade update failed")
				}
			} else {
				log.Print("authplane: password hash upgrade generation failed")
			}
		}
	}
	password = ""

	if e.mfaEnabledFor(ctx, user.ID) {
		mfaToken, err := e.tokens.IssueMFASession(user.ID, tenantID, e.now())
		if err != nil {
			return nil, err
		}

		e.recordAttempt(ctx, email, ip, true)
		e.metricInc(MetricMFAChallengeIssued)
		e.emitInfo(ctx, internalaudit.TypeMFAChallenge, true, user.ID, tenantID, "", nil, func() map[string]string {
			return map[string]string{"identifier": email}
		})

		return &LoginResult{
			MFARequired:     true,
			MFASessionToken: mfaToken,
		}, nil
	}

	result, err := e.openSession(ctx, user.ID, tenantID)
	if err != nil {
		return nil, err
	}

	e.recordAttempt(ctx, email, ip, true)
	e.metricInc(MetricLoginSuccess)
	e.emitInfo(ctx, internalaudit.TypeLoginSuccess, true, user.ID, tenantID, result.SessionID, nil, func() map[string]string {
		return map[string]string{"identifier": email}
	})

	return result, nil
}

// ThrottleStatus reports what the brute-force guard would decide for
// the identifier+IP pair right now, without recording an attempt.
func (e *Engine) ThrottleStatus(ctx context.Context, email string) (ThrottleDecision, error) {
	if e == nil || e.guard == nil {
		return ThrottleDecision{Allowed: true}, nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	return e.guard.Check(ctx, email, clientIPFromContext(ctx))
}

func (e *Engine) failLogin(ctx context.Context, tenantID, userID int64, email, reason string) error {
	e.recordAttempt(ctx, email, clientIPFromContext(ctx), false)
	e.metricInc(MetricLoginFailure)
	e.emitInfo(ctx, internalaudit.TypeLoginFailure, false, userID, tenantID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": email,
			"reason":     reason,
		}
	})
	return ErrInvalidCredentials
}

func (e *Engine) recordAttempt(ctx context.Context, email, ip string, success bool) {
	if e.guard == nil {
		return
	}
	if err := e.guard.Record(ctx, email, ip, success); err != nil {
		log.Print("authplane: login attempt record failed")
	}
}

func (e *Engine) mfaEnabledFor(ctx context.Context, userID int64) bool {
	if !e.config.TOTP.Enabled {
		return false
	}
	secret, err := e.store.GetMFASecret(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Print("authplane: mfa secret lookup failed during login")
		}
		return false
	}
	return secret.Enabled
}

// openSession creates a session and its first refresh token, then
// issues the token pair. Shared by Login and VerifyMFA.
func (e *Engine) openSession(ctx context.Context, userID, tenantID int64) (*LoginResult, error) {
	now := e.now()

	sess := &store.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		TenantID:   tenantID,
		CreatedAt:  now,
		LastSeenAt: now,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	access, err := e.tokens.IssueAccess(userID, tenantID, sess.ID, now)
	if err != nil {
		return nil, err
	}

	refresh, jti, err := e.tokens.IssueRefresh(userID, tenantID, sess.ID, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateRefreshToken(ctx, &store.RefreshToken{
		JTI:       jti,
		SessionID: sess.ID,
		TokenHash: cryptobox.TokenDigest(refresh),
		CreatedAt: now,
		ExpiresAt: now.Add(e.tokens.RefreshTTL()),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSessionCreated)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.ID,
	}, nil
}
