package goRotate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventTokenIssued          = "token_issued"
	auditEventIssueFailed          = "token_issue_failed"
	auditEventTokenRefreshed       = "token_refreshed"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventDeviceMismatch       = "device_mismatch"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventSessionEvicted       = "session_evicted"
	auditEventTokenRevoked         = "token_revoked"
	auditEventFamilyRevoked        = "family_revoked"
	auditEventUserTokensRevoked    = "user_tokens_revoked"
	auditEventOtherSessionsRevoked = "other_sessions_revoked"
)

// AuditErrorCode is the stable error label carried in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidToken   AuditErrorCode = "invalid_token"
	auditErrWrongTokenType AuditErrorCode = "wrong_token_type"
	auditErrTokenNotFound  AuditErrorCode = "token_not_found"
	auditErrTokenReused    AuditErrorCode = "token_reused"
	auditErrDeviceMismatch AuditErrorCode = "device_mismatch"
	auditErrFamilyRevoked  AuditErrorCode = "family_revoked"
	auditErrTokenRevoked   AuditErrorCode = "token_revoked"
	auditErrUserNotFound   AuditErrorCode = "user_not_found"
	auditErrRateLimited    AuditErrorCode = "rate_limited"
	auditErrIssuanceFailed AuditErrorCode = "issuance_failed"
	auditErrUnavailable    AuditErrorCode = "backend_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID    string
	familyID  string
	sessionID string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity AuditSeverity,
	success bool,
	fields auditFields,
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
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		UserID:    fields.userID,
		FamilyID:  fields.familyID,
		SessionID: fields.sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrWrongTokenType):
		return auditErrWrongTokenType
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrTokenReused):
		return auditErrTokenReused
	case errors.Is(err, ErrDeviceMismatch):
		return auditErrDeviceMismatch
	case errors.Is(err, ErrFamilyRevoked):
		return auditErrFamilyRevoked
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrIssuanceFailed):
		return auditErrIssuanceFailed
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
