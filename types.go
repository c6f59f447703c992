package gatekeeper

import (
	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/internal/guards"
	"github.com/zsportal/gatekeeper/profile"
	"github.com/zsportal/gatekeeper/stream"
)

type (
	// Principal is the authenticated subject of a session.
	Principal = identity.Principal
	// Profile is the authorization record kept per principal.
	Profile = identity.Profile
	// CombinedUser joins a principal with its loaded profile.
	CombinedUser = identity.CombinedUser
	// State is one emission of the combined user stream.
	State = identity.State

	// Route declares what a protected view requires.
	Route = guards.Route
	// Outcome is the decision of a guard chain plus its reason and effects.
	Outcome = guards.Outcome
	// Decision is an allow or a redirect.
	Decision = guards.Decision
	// Kind classifies a denial.
	Kind = guards.Kind
	// Effect is a corrective command returned with a denial.
	Effect = guards.Effect
	// Guard is one stage of the chain.
	Guard = guards.Guard
	// Navigation is one activation attempt as seen by guards.
	Navigation = guards.Navigation
	// FlagLookup answers feature-flag queries for the entitlement stage.
	FlagLookup = guards.FlagLookup

	// SessionSource is the identity-provider view of one session.
	SessionSource = stream.SessionSource
	// ProfileSource watches profile records.
	ProfileSource = stream.ProfileSource
)

const (
	KindNone                    = guards.KindNone
	KindNoSession               = guards.KindNoSession
	KindProfileMissingOrTimeout = guards.KindProfileMissingOrTimeout
	KindUnverified              = guards.KindUnverified
	KindNotApprovedOrBlocked    = guards.KindNotApprovedOrBlocked
	KindUnauthorized            = guards.KindUnauthorized
	KindBackendUnavailable      = guards.KindBackendUnavailable
	KindCancelled               = guards.KindCancelled

	EffectSignOut = guards.EffectSignOut
)

// DefaultChain returns the five stages in order: session, profile, email
// verification, standing and entitlement.
func DefaultChain(flags FlagLookup) []Guard {
	return guards.DefaultChain(flags)
}

// SessionProvider maps a session key to the identity provider's view of it.
type SessionProvider interface {
	Source(sessionKey string) SessionSource
}

// SessionProviderFunc adapts a function to [SessionProvider].
type SessionProviderFunc func(sessionKey string) SessionSource

func (f SessionProviderFunc) Source(sessionKey string) SessionSource {
	return f(sessionKey)
}

// ProfileStore is the profile backend used by the stream and the admin
// operations. profile.RedisStore and pgstore.Store implement it.
type ProfileStore = profile.Store

// NavigationRequest is one attempt to activate Path under Route.
//
// SessionKey identifies the caller's session; empty means anonymous. A nil
// Chain runs the gate's default chain.
type NavigationRequest struct {
	SessionKey string
	Path       string
	Route      Route
	Chain      []Guard
}

// Result is the outcome of [Gate.Evaluate].
//
// User is set only for allowed navigations whose chain resolved the
// profile.
type Result struct {
	Outcome
	RedirectURL  string
	NavigationID string
	User         *CombinedUser
}

// SignInResult is returned by a successful [Gate.SignIn].
type SignInResult struct {
	UserID      string
	SessionKey  string
	AccessToken string
	ExpiresAt   int64
}
