package guards

import (
	"net/url"
	"slices"
)

// Kind classifies why a navigation was denied.
type Kind uint8

const (
	KindNone Kind = iota
	KindNoSession
	KindProfileMissingOrTimeout
	KindUnverified
	KindNotApprovedOrBlocked
	KindUnauthorized
	KindBackendUnavailable
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNoSession:
		return "no_session"
	case KindProfileMissingOrTimeout:
		return "profile_missing_or_timeout"
	case KindUnverified:
		return "unverified"
	case KindNotApprovedOrBlocked:
		return "not_approved_or_blocked"
	case KindUnauthorized:
		return "unauthorized"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Effect is a corrective command returned next to a decision.
type Effect uint8

const (
	// EffectSignOut ends the identity session before the redirect.
	EffectSignOut Effect = iota + 1
)

func (e Effect) String() string {
	switch e {
	case EffectSignOut:
		return "sign_out"
	default:
		return "unknown"
	}
}

// Decision is either Allowed or a redirect to Path with Query.
type Decision struct {
	Allowed bool
	Path    string
	Query   url.Values
}

// URL renders the redirect target. It is empty for allowed decisions.
func (d Decision) URL() string {
	if d.Allowed {
		return ""
	}
	if len(d.Query) == 0 {
		return d.Path
	}
	return d.Path + "?" + d.Query.Encode()
}

// Outcome is the result of one guard or a whole chain.
type Outcome struct {
	Decision
	Kind    Kind
	Reason  string
	Guard   string
	Effects []Effect
	Err     error
}

// Allow is the passing outcome.
func Allow() Outcome {
	return Outcome{Decision: Decision{Allowed: true}}
}

// HasEffect reports whether e was requested.
func (o Outcome) HasEffect(e Effect) bool {
	return slices.Contains(o.Effects, e)
}

func deny(kind Kind, reason string, d Decision, effects ...Effect) Outcome {
	return Outcome{
		Decision: d,
		Kind:     kind,
		Reason:   reason,
		Effects:  effects,
	}
}
