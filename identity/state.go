package identity

import "errors"

// Status is the coarse state of the combined user stream.
type Status uint8

const (
	// StatusLoading means a principal is known but its profile has not arrived.
	StatusLoading Status = iota
	// StatusSignedOut means there is no authenticated principal.
	StatusSignedOut
	// StatusReady means both principal and profile are loaded.
	StatusReady
	// StatusProfileMissing means the profile store reported no record.
	StatusProfileMissing
	// StatusUnavailable means an upstream read failed.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSignedOut:
		return "signed_out"
	case StatusReady:
		return "ready"
	case StatusProfileMissing:
		return "profile_missing"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// CombinedUser is the joined view handed to guards once both sources loaded.
type CombinedUser struct {
	Principal Principal
	Profile   Profile
}

// State is one emission of the combined user stream.
type State struct {
	Status    Status
	Principal *Principal
	Profile   *Profile
	Err       error
}

// SignedOut is the state for an absent principal.
func SignedOut() State {
	return State{Status: StatusSignedOut}
}

// Loading is the transient state between a principal change and its profile.
func Loading(p Principal) State {
	return State{Status: StatusLoading, Principal: &p}
}

// Ready joins a principal with its loaded profile.
func Ready(p Principal, prof Profile) State {
	prof = prof.Clone()
	return State{Status: StatusReady, Principal: &p, Profile: &prof}
}

// ProfileMissing marks a principal whose profile record does not exist.
func ProfileMissing(p Principal) State {
	return State{Status: StatusProfileMissing, Principal: &p}
}

// Unavailable marks an upstream failure. p may be nil when the session
// source itself failed.
func Unavailable(p *Principal, err error) State {
	s := State{Status: StatusUnavailable, Err: err}
	if p != nil {
		v := *p
		s.Principal = &v
	}
	return s
}

// User returns the combined user when the state is ready.
func (s State) User() (CombinedUser, bool) {
	if s.Status != StatusReady || s.Principal == nil || s.Profile == nil {
		return CombinedUser{}, false
	}
	return CombinedUser{Principal: *s.Principal, Profile: s.Profile.Clone()}, true
}

// Resolved reports whether the state is final for a profile lookup.
func (s State) Resolved() bool {
	return s.Status != StatusLoading
}

// Equal is used to coalesce duplicate emissions.
func (s State) Equal(o State) bool {
	if s.Status != o.Status {
		return false
	}
	if (s.Principal == nil) != (o.Principal == nil) {
		return false
	}
	if s.Principal != nil && *s.Principal != *o.Principal {
		return false
	}
	if (s.Profile == nil) != (o.Profile == nil) {
		return false
	}
	if s.Profile != nil && !s.Profile.Equal(*o.Profile) {
		return false
	}
	if (s.Err == nil) != (o.Err == nil) {
		return false
	}
	return s.Err == nil || errors.Is(s.Err, o.Err) || s.Err.Error() == o.Err.Error()
}
