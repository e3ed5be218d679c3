package goOTP

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/goOTP/internal/audit"
)

const (
	auditEventInitiate           = "otp_initiate"
	auditEventVerify             = "otp_verify"
	auditEventLockout            = "otp_lockout"
	auditEventConsume            = "otp_consume"
	auditEventReplay             = "otp_replay"
	auditEventCancel             = "otp_cancel"
	auditEventRateLimitTriggered = "rate_limit_triggered"
)

// AuditErrorCode is the stable, low-cardinality error label written to
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrChallengeActive   AuditErrorCode = "challenge_active"
	auditErrDeliveryFailed    AuditErrorCode = "delivery_failed"
	auditErrChallengeNotFound AuditErrorCode = "challenge_not_found"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrInvalidCode       AuditErrorCode = "invalid_code"
	auditErrTokenInvalid      AuditErrorCode = "invalid_token"
	auditErrTokenExpired      AuditErrorCode = "token_expired"
	auditErrTokenReplay       AuditErrorCode = "token_replay"
	auditErrFinalization      AuditErrorCode = "finalization_failed"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrInvalidRequest    AuditErrorCode = "invalid_request"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrNotReady          AuditErrorCode = "engine_not_ready"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	purpose string,
	subject string,
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

	now := e.now().UTC()
	event := AuditEvent{
		ID:        internalaudit.NewEventID(now),
		Timestamp: now,
		EventType: eventType,
		Purpose:   purpose,
		Subject:   subject,
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
	case errors.Is(err, ErrChallengeAlreadyActive):
		return auditErrChallengeActive
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrTokenAlreadyUsedOrRevoked):
		return auditErrTokenReplay
	case errors.Is(err, ErrFinalizationFailed):
		return auditErrFinalization
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnknownPurpose),
		errors.Is(err, ErrInvalidSubject),
		errors.Is(err, ErrPayloadRequired),
		errors.Is(err, ErrPayloadTooLarge):
		return auditErrInvalidRequest
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return auditErrNotReady
	default:
		return auditErrInternal
	}
}
