package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/internal/rate"
	"github.com/zsportal/gatekeeper/internal/stores"
	"github.com/zsportal/gatekeeper/password"
	"github.com/zsportal/gatekeeper/session"
)

// Register creates a credential and a profile for email.
//
// New profiles carry the user role and wait for approval, unless the
// address is listed in AccountConfig.AdminEmails or AutoApprove is set.
func (g *Gate) Register(ctx context.Context, email, pass string) (string, error) {
	if g.credentials == nil || g.profiles == nil || g.passwordHash == nil {
		return "", ErrGateNotReady
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	hash, err := g.passwordHash.Hash(pass)
	if err != nil {
		return "", mapPasswordErr(err)
	}

	userID := uuid.NewString()
	if err := g.credentials.Create(ctx, Credential{UserID: userID, Email: email, PasswordHash: hash}); err != nil {
		g.emitAudit(ctx, auditEventRegistration, false, "", "", err, nil)
		return "", err
	}

	p := identity.NewProfile(userID, g.now())
	if g.isAdminEmail(email) {
		p.Roles = []string{identity.RoleUser, identity.RoleAdmin}
		p.Approved = true
	} else if g.config.Account.AutoApprove {
		p.Approved = true
	}
	if err := g.profiles.Create(ctx, p); err != nil {
		err = mapProfileErr(err)
		if rbErr := g.credentials.Delete(ctx, userID); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		g.emitAudit(ctx, auditEventRegistration, false, userID, "", err, nil)
		return "", err
	}

	g.metricInc(MetricRegistration)
	g.emitAudit(ctx, auditEventRegistration, true, userID, "", nil, func() map[string]string {
		return map[string]string{"approved": fmt.Sprint(p.Approved)}
	})
	return userID, nil
}

// SignIn checks email and password and opens a new session.
//
// Unknown emails and wrong passwords both return [ErrInvalidCredentials]
// and both count against the sign-in budget.
func (g *Gate) SignIn(ctx context.Context, email, pass string) (*SignInResult, error) {
	if g.credentials == nil || g.sessions == nil || g.jwtManager == nil || g.passwordHash == nil {
		return nil, ErrGateNotReady
	}
	email = stores.NormalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if g.rateLimiter != nil {
		if err := g.rateLimiter.CheckSignIn(ctx, email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				g.metricInc(MetricSignInRateLimited)
				g.emitAudit(ctx, auditEventSignInRateLimited, false, "", "", ErrSignInRateLimited, nil)
				return nil, ErrSignInRateLimited
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	cred, err := g.credentials.ByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		// Spend the same hashing work as a real check.
		_, _ = g.passwordHash.Verify(pass, g.dummyHash)
		return nil, g.failSignIn(ctx, email, ip, "")
	case err != nil:
		return nil, err
	}

	ok, err := g.passwordHash.Verify(pass, cred.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooShort) && !errors.Is(err, password.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !ok {
		return nil, g.failSignIn(ctx, email, ip, cred.UserID)
	}

	if g.config.Password.UpgradeOnSignIn {
		g.upgradeHash(ctx, cred, pass)
	}

	sid, err := session.NewID()
	if err != nil {
		return nil, err
	}
	now := g.now()
	sess := &session.Session{
		SessionID:     sid,
		UserID:        cred.UserID,
		Email:         cred.Email,
		EmailVerified: cred.EmailVerified,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(g.config.Session.TTL).Unix(),
	}
	if err := g.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	token, err := g.jwtManager.CreateAccess(cred.UserID, sid)
	if err != nil {
		_ = g.sessions.Delete(context.WithoutCancel(ctx), sid)
		return nil, err
	}

	if g.rateLimiter != nil {
		if err := g.rateLimiter.ResetSignIn(ctx, email, ip); err != nil {
			g.logger.WarnContext(ctx, "sign-in counter reset failed", slog.Any("error", err))
		}
	}

	g.metricInc(MetricSignInSuccess)
	g.emitAudit(ctx, auditEventSignInSuccess, true, cred.UserID, sid, nil, nil)
	return &SignInResult{
		UserID:      cred.UserID,
		SessionKey:  sid,
		AccessToken: token,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

func (g *Gate) failSignIn(ctx context.Context, email, ip, userID string) error {
	if g.rateLimiter != nil {
		if err := g.rateLimiter.IncrementSignIn(ctx, email, ip); err != nil {
			g.logger.WarnContext(ctx, "sign-in counter update failed", slog.Any("error", err))
		}
	}
	g.metricInc(MetricSignInFailure)
	g.emitAudit(ctx, auditEventSignInFailure, false, userID, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (g *Gate) upgradeHash(ctx context.Context, cred Credential, pass string) {
	needs, err := g.passwordHash.NeedsUpgrade(cred.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := g.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	if err := g.credentials.UpdateHash(ctx, cred.UserID, hash); err != nil {
		g.logger.WarnContext(ctx, "password hash upgrade failed",
			slog.String("user_id", cred.UserID),
			slog.Any("error", err),
		)
	}
}

// SignOut stamps the user's lastLogoutAt and deletes the session. Signing
// out an unknown or expired session is not an error.
func (g *Gate) SignOut(ctx context.Context, sessionKey string) error {
	if g.sessions == nil {
		return ErrGateNotReady
	}
	sess, err := g.sessions.Get(ctx, sessionKey)
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrInvalidID):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if g.profiles != nil {
		now := g.now()
		if _, err := g.profiles.Update(ctx, sess.UserID, identity.Patch{LastLogoutAt: &now}); err != nil {
			g.logger.WarnContext(ctx, "last logout stamp failed",
				slog.String("user_id", sess.UserID),
				slog.Any("error", err),
			)
		}
	}

	if err := g.sessions.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	g.metricInc(MetricSignOut)
	g.emitAudit(ctx, auditEventSignOut, true, sess.UserID, sessionKey, nil, nil)
	return nil
}

// ResolveToken verifies an access token and returns the session key it is
// bound to. Whether the session still exists is left to the guard chain.
func (g *Gate) ResolveToken(token string) (string, error) {
	if g.jwtManager == nil {
		return "", ErrGateNotReady
	}
	claims, err := g.jwtManager.ParseAccess(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !session.ValidID(claims.SID) {
		return "", ErrTokenInvalid
	}
	return claims.SID, nil
}

// TouchActivity stamps lastActiveAt on the user's profile.
func (g *Gate) TouchActivity(ctx context.Context, userID string) error {
	if g.profiles == nil {
		return ErrGateNotReady
	}
	now := g.now()
	if _, err := g.profiles.Update(ctx, userID, identity.Patch{LastActiveAt: &now}); err != nil {
		return mapProfileErr(err)
	}
	return nil
}

func (g *Gate) isAdminEmail(email string) bool {
	return slices.ContainsFunc(g.config.Account.AdminEmails, func(a string) bool {
		return strings.EqualFold(strings.TrimSpace(a), email)
	})
}

// normalizeEmail accepts a bare address and returns its lookup form.
func normalizeEmail(email string) (string, error) {
	email = stores.NormalizeEmail(email)
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func mapPasswordErr(err error) error {
	if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	return err
}
