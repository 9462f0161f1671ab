package authplane

import (
	"context"
	"errors"

	internalaudit "github.com/vaultline/authplane/internal/audit"
)

// AuditErrorCode is the stable error label carried in audit records.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrLockedOut          AuditErrorCode = "locked_out"
	auditErrReplay             AuditErrorCode = "token_replay"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrTenantMismatch     AuditErrorCode = "tenant_mismatch"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionRevoked     AuditErrorCode = "session_revoked"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFARateLimited     AuditErrorCode = "mfa_rate_limited"
	auditErrMFANotConfigured   AuditErrorCode = "mfa_not_configured"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrMissingTenant      AuditErrorCode = "missing_tenant"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity string,
	success bool,
	userID int64,
	tenantID int64,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Severity:  severity,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitInfo(ctx context.Context, eventType string, success bool, userID, tenantID int64, sessionID string, err error, metadataBuilder func() map[string]string) {
	e.emitAudit(ctx, eventType, internalaudit.SeverityInfo, success, userID, tenantID, sessionID, err, metadataBuilder)
}

func (e *Engine) emitCritical(ctx context.Context, eventType string, userID, tenantID int64, sessionID string, err error, metadataBuilder func() map[string]string) {
	e.emitAudit(ctx, eventType, internalaudit.SeverityCritical, false, userID, tenantID, sessionID, err, metadataBuilder)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrSessionCompromised):
		return auditErrReplay
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenMalformed):
		return auditErrInvalidToken
	case errors.Is(err, ErrTenantMismatch):
		return auditErrTenantMismatch
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrMFAInvalidCode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFARateLimited):
		return auditErrMFARateLimited
	case errors.Is(err, ErrMFANotConfigured), errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrMFANotConfigured
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrMissingTenant):
		return auditErrMissingTenant
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
