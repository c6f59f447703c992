package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zsportal/gatekeeper/internal/audit"
	"github.com/zsportal/gatekeeper/internal/guards"
	"github.com/zsportal/gatekeeper/stream"
)

// AuditEvent is one audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// KafkaSink publishes audit events to Kafka.
type KafkaSink = audit.KafkaSink

// NewChannelSink returns a sink read through Events.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewKafkaSink publishes to topic through producer, usually a *kgo.Client.
func NewKafkaSink(producer audit.Producer, topic string) *KafkaSink {
	return audit.NewKafkaSink(producer, topic)
}

const (
	auditEventGuardAllowed             = "guard_allowed"
	auditEventGuardDenied              = "guard_denied"
	auditEventForcedSignOut            = "forced_sign_out"
	auditEventSignInSuccess            = "sign_in_success"
	auditEventSignInFailure            = "sign_in_failure"
	auditEventSignInRateLimited        = "sign_in_rate_limited"
	auditEventSignOut                  = "sign_out"
	auditEventRegistration             = "registration"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventProfileStatusChange      = "profile_status_change"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrSessionTimeout     AuditErrorCode = "session_timeout"
	auditErrGuardPanic         AuditErrorCode = "guard_panic"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrCancelled          AuditErrorCode = "cancelled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (g *Gate) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionKey string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: redactSessionKey(sessionKey),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func (g *Gate) emitDecision(ctx context.Context, sessionKey string, nav *guards.Navigation, r Result) {
	if g == nil || g.audit == nil {
		return
	}
	eventType := auditEventGuardAllowed
	if !r.Allowed {
		eventType = auditEventGuardDenied
	}

	var userID string
	if st, ok := nav.Snapshot(); ok && st.Principal != nil {
		userID = st.Principal.ID
	}

	event := AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		UserID:       userID,
		SessionID:    redactSessionKey(sessionKey),
		NavigationID: r.NavigationID,
		Path:         pathOnly(nav.Input.Path),
		IP:           clientIPFromContext(ctx),
		Success:      r.Allowed,
	}
	if !r.Allowed {
		event.Metadata = map[string]string{
			"kind":     r.Kind.String(),
			"reason":   r.Reason,
			"guard":    r.Guard,
			"redirect": r.Path,
		}
		if code := auditErrorCode(r.Err); code != "" {
			event.Error = string(code)
		}
	}
	g.audit.Emit(ctx, event)
}

// AuditDropped returns how many audit events were dropped by a full buffer.
func (g *Gate) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

func pathOnly(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}

// redactSessionKey keeps a prefix long enough to correlate log lines
// without exposing a usable session key.
func redactSessionKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrSignInRateLimited),
		errors.Is(err, ErrVerificationRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrProfileNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrVerificationInvalid),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionNotFound):
		return auditErrInvalidToken
	case errors.Is(err, ErrVerificationAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidRoles):
		return auditErrInvalidInput
	case errors.Is(err, guards.ErrSessionTimeout):
		return auditErrSessionTimeout
	case errors.Is(err, guards.ErrGuardPanic):
		return auditErrGuardPanic
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrCancelled
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrGateNotReady),
		errors.Is(err, stream.ErrSessionUnavailable),
		errors.Is(err, stream.ErrProfileUnavailable),
		errors.Is(err, stream.ErrProfileLoadTimeout),
		errors.Is(err, stream.ErrUpstreamClosed),
		errors.Is(err, stream.ErrClosed),
		errors.Is(err, guards.ErrNoStream):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
