package guards

import (
	"context"
	"errors"
)

// Guard is one stage of the chain.
type Guard interface {
	Name() string
	Check(ctx context.Context, nav *Navigation) Outcome
}

// FlagLookup answers whether a feature flag is on. A lookup error is
// treated as a backend failure.
type FlagLookup interface {
	IsEnabled(ctx context.Context, key string) (bool, error)
}

// ErrSessionTimeout is attached to outcomes where the session source never
// produced a first value.
var ErrSessionTimeout = errors.New("session did not resolve in time")

// SessionGuard requires an authenticated principal.
type SessionGuard struct{}

func (SessionGuard) Name() string { return "session" }

func (SessionGuard) Check(ctx context.Context, nav *Navigation) Outcome {
	st, ok, err := nav.First(ctx)
	if err != nil {
		return nav.failure(ctx, err)
	}
	if !ok {
		out := deny(KindBackendUnavailable, "session_timeout", nav.Input.login())
		out.Err = ErrSessionTimeout
		return out
	}
	return CheckSession(st, nav.Input)
}

// ProfileGuard requires the profile to load within the navigation timeout.
type ProfileGuard struct{}

func (ProfileGuard) Name() string { return "profile" }

func (ProfileGuard) Check(ctx context.Context, nav *Navigation) Outcome {
	if _, out, ok := nav.user(ctx); !ok {
		return out
	}
	return Allow()
}

// VerifiedGuard requires a verified email address.
type VerifiedGuard struct{}

func (VerifiedGuard) Name() string { return "email_verified" }

func (VerifiedGuard) Check(ctx context.Context, nav *Navigation) Outcome {
	u, out, ok := nav.user(ctx)
	if !ok {
		return out
	}
	return CheckVerified(u, nav.Input)
}

// StandingGuard rejects blocked and unapproved accounts.
type StandingGuard struct{}

func (StandingGuard) Name() string { return "standing" }

func (StandingGuard) Check(ctx context.Context, nav *Navigation) Outcome {
	u, out, ok := nav.user(ctx)
	if !ok {
		return out
	}
	return CheckStanding(u, nav.Input)
}

// EntitlementGuard enforces the route's required roles and feature flag.
// Routes without either pass without touching the stream.
type EntitlementGuard struct {
	Flags FlagLookup
}

func (EntitlementGuard) Name() string { return "entitlement" }

func (g EntitlementGuard) Check(ctx context.Context, nav *Navigation) Outcome {
	if !nav.Input.Route.Restricted() {
		return Allow()
	}
	u, out, ok := nav.user(ctx)
	if !ok {
		return out
	}

	var flag FlagResult
	if key := nav.Input.Route.FeatureFlag; key != "" {
		flag = g.lookup(ctx, nav, key)
		if ctx.Err() != nil {
			return nav.failure(ctx, ctx.Err())
		}
	}
	return CheckEntitlement(u, flag, nav.Input)
}

func (g EntitlementGuard) lookup(ctx context.Context, nav *Navigation, key string) FlagResult {
	if g.Flags == nil {
		return FlagResult{}
	}
	fctx, cancel := context.WithTimeout(ctx, nav.Timeout)
	defer cancel()
	on, err := g.Flags.IsEnabled(fctx, key)
	return FlagResult{Enabled: on, Err: err}
}

// DefaultChain returns the five stages in their required order.
func DefaultChain(flags FlagLookup) []Guard {
	return []Guard{
		SessionGuard{},
		ProfileGuard{},
		VerifiedGuard{},
		StandingGuard{},
		EntitlementGuard{Flags: flags},
	}
}
