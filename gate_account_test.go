package gatekeeper

import (
	"context"
	"errors"
	"testing"

	"github.com/zsportal/gatekeeper/identity"
)

func TestRegisterValidation(t *testing.T) {
	g, _, _, done := newTestGate(t, nil)
	defer done()
	ctx := context.Background()

	if _, err := g.Register(ctx, "not-an-email", testPassword); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := g.Register(ctx, "Ann <ann@example.com>", testPassword); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("display names must be rejected, got %v", err)
	}
	if _, err := g.Register(ctx, "ann@example.com", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	userID, err := g.Register(ctx, "ann@example.com", testPassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := g.Register(ctx, " ANN@example.com ", testPassword); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	p, err := g.profiles.Get(ctx, userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Approved || p.Blocked || len(p.Roles) != 1 || p.Roles[0] != identity.RoleUser {
		t.Fatalf("unexpected registration defaults: %+v", p)
	}
	if got := g.MetricsSnapshot().Counters[MetricRegistration]; got != 1 {
		t.Fatalf("expected one registration, got %d", got)
	}
}

func TestRegisterAdminAndAutoApprove(t *testing.T) {
	g, _, _, done := newTestGate(t, func(c *Config) {
		c.Account.AdminEmails = []string{"Root@Example.com"}
	})
	defer done()
	ctx := context.Background()

	adminID, err := g.Register(ctx, "root@example.com", testPassword)
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	p, _ := g.profiles.Get(ctx, adminID)
	if !p.Approved || !p.HasAnyRole([]string{identity.RoleAdmin}) {
		t.Fatalf("admin email must be approved admin: %+v", p)
	}

	auto, _, _, autoDone := newTestGate(t, func(c *Config) {
		c.Account.AutoApprove = true
	})
	defer autoDone()
	userID, err := auto.Register(ctx, "bob@example.com", testPassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p, _ = auto.profiles.Get(ctx, userID)
	if !p.Approved || p.HasAnyRole([]string{identity.RoleAdmin}) {
		t.Fatalf("auto approve must approve plain users: %+v", p)
	}
}

func TestSignIn(t *testing.T) {
	g, _, _, done := newTestGate(t, nil)
	defer done()
	ctx := context.Background()

	userID, err := g.Register(ctx, "ann@example.com", testPassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := g.SignIn(ctx, "ann@example.com", "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := g.SignIn(ctx, "nobody@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must look like a wrong password, got %v", err)
	}

	res, err := g.SignIn(ctx, "ANN@example.com", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if res.UserID != userID || res.SessionKey == "" || res.AccessToken == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	sess, err := g.sessions.Get(ctx, res.SessionKey)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.UserID != userID || sess.EmailVerified {
		t.Fatalf("unexpected session: %+v", sess)
	}

	key, err := g.ResolveToken(res.AccessToken)
	if err != nil || key != res.SessionKey {
		t.Fatalf("resolve token: %q %v", key, err)
	}
	if _, err := g.ResolveToken(res.AccessToken + "x"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestSignInRateLimited(t *testing.T) {
	g, sink, _, done := newTestGate(t, func(c *Config) {
		c.SignIn.MaxAttempts = 2
	})
	defer done()
	ctx := context.Background()

	if _, err := g.Register(ctx, "ann@example.com", testPassword); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := g.SignIn(ctx, "ann@example.com", "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := g.SignIn(ctx, "ann@example.com", testPassword); !errors.Is(err, ErrSignInRateLimited) {
		t.Fatalf("expected ErrSignInRateLimited, got %v", err)
	}
	if got := g.MetricsSnapshot().Counters[MetricSignInRateLimited]; got != 1 {
		t.Fatalf("expected one rate-limited metric, got %d", got)
	}

	g.Close()
	var limited bool
	for ev := range drain(sink) {
		if ev.EventType == auditEventSignInRateLimited && ev.Error == string(auditErrRateLimited) {
			limited = true
		}
	}
	if !limited {
		t.Fatal("rate-limited sign-in not audited")
	}
}

func drain(sink *ChannelSink) <-chan AuditEvent {
	out := make(chan AuditEvent, 256)
	for {
		select {
		case ev := <-sink.Events():
			out <- ev
		default:
			close(out)
			return out
		}
	}
}

func TestSignOutStampsLastLogout(t *testing.T) {
	g, _, _, done := newTestGate(t, nil)
	defer done()
	ctx := context.Background()

	userID, key := signedInUser(t, g, "ann@example.com")
	if err := g.SignOut(ctx, key); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	p, err := g.profiles.Get(ctx, userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.LastLogoutAt == nil {
		t.Fatal("lastLogoutAt not stamped")
	}
	if res := evaluate(g, key, "/reports", Route{}); res.Kind != KindNoSession {
		t.Fatalf("expected no session after sign-out, got %+v", res.Outcome)
	}
	if err := g.SignOut(ctx, key); err != nil {
		t.Fatalf("second sign-out must be a no-op, got %v", err)
	}
}

func TestEmailVerification(t *testing.T) {
	g, _, _, done := newTestGate(t, nil)
	defer done()
	ctx := context.Background()

	userID, key := signedInUser(t, g, "ann@example.com")
	token, err := g.RequestEmailVerification(ctx, userID)
	if err != nil || token == "" {
		t.Fatalf("request: %q %v", token, err)
	}

	tampered := token[:len(token)-2] + "AA"
	if tampered == token {
		tampered = token[:len(token)-2] + "BB"
	}
	if err := g.ConfirmEmailVerification(ctx, tampered); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid for tampered token, got %v", err)
	}
	if err := g.ConfirmEmailVerification(ctx, "%%%"); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid for malformed token, got %v", err)
	}

	if err := g.ConfirmEmailVerification(ctx, token); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := g.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("token must be single use, got %v", err)
	}

	sess, err := g.sessions.Get(ctx, key)
	if err != nil || !sess.EmailVerified {
		t.Fatalf("live session not marked verified: %+v %v", sess, err)
	}
	if again, err := g.RequestEmailVerification(ctx, userID); err != nil || again != "" {
		t.Fatalf("verified users get no token: %q %v", again, err)
	}

	// A fresh sign-in carries the flag from the credential.
	res, err := g.SignIn(ctx, "ann@example.com", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if sess, _ := g.sessions.Get(ctx, res.SessionKey); sess == nil || !sess.EmailVerified {
		t.Fatalf("new session not verified: %+v", sess)
	}
}

func TestVerificationRequestsRateLimited(t *testing.T) {
	g, _, _, done := newTestGate(t, func(c *Config) {
		c.Verification.MaxRequests = 1
	})
	defer done()
	ctx := context.Background()

	userID, _ := signedInUser(t, g, "ann@example.com")
	if _, err := g.RequestEmailVerification(ctx, userID); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := g.RequestEmailVerification(ctx, userID); !errors.Is(err, ErrVerificationRateLimited) {
		t.Fatalf("expected ErrVerificationRateLimited, got %v", err)
	}
}

func TestAdminOperationErrors(t *testing.T) {
	g, _, _, done := newTestGate(t, nil)
	defer done()
	ctx := context.Background()

	if err := g.Approve(ctx, "ghost"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	userID, err := g.Register(ctx, "ann@example.com", testPassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.SetRoles(ctx, userID, nil); !errors.Is(err, ErrInvalidRoles) {
		t.Fatalf("expected ErrInvalidRoles, got %v", err)
	}
	if err := g.TouchActivity(ctx, userID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	p, _ := g.profiles.Get(ctx, userID)
	if p.LastActiveAt == nil {
		t.Fatal("lastActiveAt not stamped")
	}
	if code := auditErrorCode(ErrInvalidRoles); code != auditErrInvalidInput {
		t.Fatalf("invalid roles must audit as invalid input, got %q", code)
	}
}
