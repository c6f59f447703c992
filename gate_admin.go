package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/internal"
	"github.com/zsportal/gatekeeper/internal/rate"
	"github.com/zsportal/gatekeeper/internal/stores"
	"github.com/zsportal/gatekeeper/profile"
)

// RequestEmailVerification issues a single-use verification token for
// userID. The caller delivers it to the user's inbox. An already verified
// user gets an empty token and no error.
func (g *Gate) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	if g.verifications == nil || g.credentials == nil {
		return "", ErrGateNotReady
	}

	if g.rateLimiter != nil {
		if err := g.rateLimiter.AllowVerificationRequest(ctx, userID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				g.emitAudit(ctx, auditEventEmailVerificationRequest, false, userID, "", ErrVerificationRateLimited, nil)
				return "", ErrVerificationRateLimited
			}
			return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	cred, err := g.credentials.ByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if cred.EmailVerified {
		return "", nil
	}

	id, secret, err := internal.NewChallenge()
	if err != nil {
		return "", err
	}
	ttl := g.config.Verification.TTL
	record := &stores.EmailVerificationRecord{
		UserID:     userID,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  g.now().Add(ttl).Unix(),
	}
	if err := g.verifications.Save(ctx, id.String(), record, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	g.metricInc(MetricEmailVerificationRequest)
	g.emitAudit(ctx, auditEventEmailVerificationRequest, true, userID, "", nil, nil)
	return internal.EncodeChallengeToken(id, secret), nil
}

// ConfirmEmailVerification consumes token and marks the user's email as
// verified on the credential and on every live session. Open streams see
// the change without a new sign-in.
func (g *Gate) ConfirmEmailVerification(ctx context.Context, token string) error {
	if g.verifications == nil || g.credentials == nil {
		return ErrGateNotReady
	}

	id, secret, err := internal.DecodeChallengeToken(strings.TrimSpace(token))
	if err != nil {
		return g.failVerification(ctx, "", ErrVerificationInvalid)
	}

	record, err := g.verifications.Consume(ctx, id.String(), internal.HashSecret(secret), g.config.Verification.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrVerificationNotFound),
			errors.Is(err, stores.ErrVerificationSecretMismatch):
			return g.failVerification(ctx, "", ErrVerificationInvalid)
		case errors.Is(err, stores.ErrVerificationAttemptsExceeded):
			return g.failVerification(ctx, "", ErrVerificationAttempts)
		default:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if err := g.credentials.SetEmailVerified(ctx, record.UserID, true); err != nil {
		return g.failVerification(ctx, record.UserID, err)
	}
	if g.sessions != nil {
		if err := g.sessions.SetEmailVerified(ctx, record.UserID, true); err != nil {
			g.logger.WarnContext(ctx, "session verification flag update failed",
				slog.String("user_id", record.UserID),
				slog.Any("error", err),
			)
		}
	}

	g.metricInc(MetricEmailVerificationSuccess)
	g.emitAudit(ctx, auditEventEmailVerificationConfirm, true, record.UserID, "", nil, nil)
	return nil
}

func (g *Gate) failVerification(ctx context.Context, userID string, err error) error {
	g.metricInc(MetricEmailVerificationFailure)
	g.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, "", err, nil)
	return err
}

// Approve lets userID past the pending-approval stage.
func (g *Gate) Approve(ctx context.Context, userID string) error {
	v := true
	return g.updateStanding(ctx, userID, "approve", identity.Patch{Approved: &v})
}

// Block denies every protected route to userID until Unblock. Live
// sessions are kept; their next navigation is sent to the login page.
func (g *Gate) Block(ctx context.Context, userID string) error {
	v := true
	return g.updateStanding(ctx, userID, "block", identity.Patch{Blocked: &v})
}

// Unblock lifts a block.
func (g *Gate) Unblock(ctx context.Context, userID string) error {
	v := false
	return g.updateStanding(ctx, userID, "unblock", identity.Patch{Blocked: &v})
}

// SetRoles replaces the roles of userID. An empty set is rejected.
func (g *Gate) SetRoles(ctx context.Context, userID string, roles []string) error {
	r := append([]string(nil), roles...)
	return g.updateStanding(ctx, userID, "set_roles", identity.Patch{Roles: &r})
}

func (g *Gate) updateStanding(ctx context.Context, userID, action string, patch identity.Patch) error {
	if g.profiles == nil {
		return ErrGateNotReady
	}
	p, err := g.profiles.Update(ctx, userID, patch)
	if err != nil {
		err = mapProfileErr(err)
		g.emitAudit(ctx, auditEventProfileStatusChange, false, userID, "", err, func() map[string]string {
			return map[string]string{"action": action}
		})
		return err
	}

	g.metricInc(MetricProfileStatusChange)
	g.emitAudit(ctx, auditEventProfileStatusChange, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"action":   action,
			"approved": fmt.Sprint(p.Approved),
			"blocked":  fmt.Sprint(p.Blocked),
			"roles":    strings.Join(p.Roles, ","),
		}
	})
	return nil
}

func mapProfileErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, profile.ErrNotFound):
		return ErrProfileNotFound
	case errors.Is(err, profile.ErrExists):
		return ErrAccountExists
	case errors.Is(err, identity.ErrEmptyRoles):
		return ErrInvalidRoles
	case errors.Is(err, profile.ErrUnavailable), errors.Is(err, profile.ErrConflict):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return err
	}
}
