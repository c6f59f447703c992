package guards

import (
	"errors"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/stream"
)

// Route is the per-route configuration consumed by the entitlement stage.
type Route struct {
	RequiredRoles []string
	FeatureFlag   string
	Fallback      string
}

// Restricted reports whether the route declares any entitlement.
func (r Route) Restricted() bool {
	return len(r.RequiredRoles) > 0 || r.FeatureFlag != ""
}

// Input is what every predicate knows about the attempt besides the user.
type Input struct {
	Path  string
	Route Route
	Paths Paths
}

// FlagResult is the outcome of a feature-flag lookup. The zero value means
// "not enabled".
type FlagResult struct {
	Enabled bool
	Err     error
}

func (in Input) login() Decision {
	return redirectWithReturn(in.Paths.WithDefaults().Login, in.Path, in.Paths)
}

// CheckSession is stage 1: a principal must be present.
func CheckSession(st identity.State, in Input) Outcome {
	if st.Status == identity.StatusUnavailable &&
		(st.Principal == nil || errors.Is(st.Err, stream.ErrSessionUnavailable)) {
		out := deny(KindBackendUnavailable, "session_unavailable", in.login())
		out.Err = st.Err
		return out
	}
	if st.Status == identity.StatusSignedOut || st.Principal == nil {
		return deny(KindNoSession, "no_session", in.login())
	}
	return Allow()
}

// CheckProfile is stage 2: the profile must have loaded. A missing profile
// or a timed out wait is a provisioning fault and requests a sign-out.
func CheckProfile(st identity.State, timedOut bool, in Input) Outcome {
	if timedOut {
		return deny(KindProfileMissingOrTimeout, "profile_timeout", in.login(), EffectSignOut)
	}

	switch st.Status {
	case identity.StatusReady:
		if st.Profile == nil || st.Principal == nil {
			return deny(KindProfileMissingOrTimeout, "profile_missing", in.login(), EffectSignOut)
		}
		return Allow()
	case identity.StatusProfileMissing:
		return deny(KindProfileMissingOrTimeout, "profile_missing", in.login(), EffectSignOut)
	case identity.StatusSignedOut:
		return deny(KindNoSession, "no_session", in.login())
	case identity.StatusUnavailable:
		if errors.Is(st.Err, stream.ErrProfileLoadTimeout) {
			out := deny(KindProfileMissingOrTimeout, "profile_timeout", in.login(), EffectSignOut)
			out.Err = st.Err
			return out
		}
		out := CheckSession(st, in)
		if out.Allowed {
			out = deny(KindBackendUnavailable, "profile_unavailable", in.login())
			out.Err = st.Err
		}
		return out
	default:
		return deny(KindProfileMissingOrTimeout, "profile_timeout", in.login(), EffectSignOut)
	}
}

// CheckVerified is stage 3: the principal's email must be verified.
func CheckVerified(u identity.CombinedUser, in Input) Outcome {
	if !u.Principal.EmailVerified {
		return deny(KindUnverified, "email_unverified",
			redirectWithReturn(in.Paths.WithDefaults().VerifyEmail, in.Path, in.Paths))
	}
	return Allow()
}

// CheckStanding is stage 4. Blocked is checked before approval and never
// carries a return target.
func CheckStanding(u identity.CombinedUser, in Input) Outcome {
	paths := in.Paths.WithDefaults()
	if u.Profile.Blocked {
		return deny(KindNotApprovedOrBlocked, "blocked", redirectTo(paths.Login))
	}
	if !u.Profile.Approved {
		return deny(KindNotApprovedOrBlocked, "pending_approval", redirectTo(paths.PendingApproval))
	}
	return Allow()
}

// CheckEntitlement is stage 5. Any one required role suffices; when a flag
// is declared as well, it must also be enabled.
func CheckEntitlement(u identity.CombinedUser, flag FlagResult, in Input) Outcome {
	if len(in.Route.RequiredRoles) > 0 && !u.Profile.HasAnyRole(in.Route.RequiredRoles) {
		return deny(KindUnauthorized, "missing_role", redirectTo(fallbackFor(in)))
	}
	if in.Route.FeatureFlag != "" {
		if flag.Err != nil {
			out := deny(KindBackendUnavailable, "feature_flag_unavailable", in.login())
			out.Err = flag.Err
			return out
		}
		if !flag.Enabled {
			return deny(KindUnauthorized, "feature_disabled", redirectTo(fallbackFor(in)))
		}
	}
	return Allow()
}
