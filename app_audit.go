package authflow

import (
	"context"
	"errors"

	"github.com/MrEthical07/authflow/internal/errcode"
)

const (
	auditEventLoginSubmitted        = "login_submitted"
	auditEventLoginOTPRequired      = "login_otp_required"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventOTPFailure            = "otp_failure"
	auditEventAttemptsExhausted     = "attempts_exhausted"
	auditEventRegistrationSubmitted = "registration_submitted"
	auditEventVerificationResent    = "verification_resent"
	auditEventVerificationSuccess   = "verification_success"
	auditEventRecoveryRequested     = "recovery_code_requested"
	auditEventRecoveryConfirmed     = "recovery_code_confirmed"
	auditEventRecoveryResumed       = "recovery_resumed"
	auditEventPasswordReset         = "password_reset"
	auditEventResetSessionExpired   = "reset_session_expired"
	auditEventLogout                = "logout"
)

// AuditErrorCode is the coarse error class recorded on failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrEmailRegistered    AuditErrorCode = "email_registered"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrMalformedEmail     AuditErrorCode = "malformed_email"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAttemptsExhausted  AuditErrorCode = "attempts_exhausted"
	auditErrSessionExpired     AuditErrorCode = "reset_session_expired"
	auditErrTransport          AuditErrorCode = "transport"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrServer             AuditErrorCode = "server_error"
)

func (a *App) emitAudit(
	ctx context.Context,
	eventType string,
	flow string,
	instance string,
	email string,
	success bool,
	err error,
) {
	a.emitAuditWith(ctx, eventType, flow, instance, email, success, err, nil)
}

func (a *App) emitAuditWith(
	ctx context.Context,
	eventType string,
	flow string,
	instance string,
	email string,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if a == nil || a.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:    a.now().UTC(),
		EventType:    eventType,
		Flow:         flow,
		FlowInstance: instance,
		Email:        email,
		Success:      success,
		Metadata:     metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	a.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrResetSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	}

	if reqErr, ok := AsRequestError(err); ok {
		switch reqErr.Code {
		case "":
			return auditErrTransport
		case errcode.InvalidCredentials:
			return auditErrInvalidCredentials
		case errcode.EmailRegistered:
			return auditErrEmailRegistered
		case errcode.PasswordPolicy, errcode.PasswordPolicyInput:
			return auditErrPasswordPolicy
		case errcode.AccountLocked:
			return auditErrAccountLocked
		case errcode.InvalidCode:
			return auditErrInvalidCode
		case errcode.MalformedEmail:
			return auditErrMalformedEmail
		case errcode.RateLimited:
			return auditErrRateLimited
		default:
			return auditErrServer
		}
	}
	return auditErrServer
}
