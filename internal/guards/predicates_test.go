package guards

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/stream"
)

func identityStateSignedOut() identity.State { return identity.SignedOut() }

func TestCheckProfileStates(t *testing.T) {
	in := Input{Path: "/x", Paths: DefaultPaths()}
	p := principal(true)
	storeDown := fmt.Errorf("%w: %v", stream.ErrProfileUnavailable, errors.New("redis down"))

	cases := []struct {
		name     string
		st       identity.State
		timedOut bool
		kind     Kind
		signOut  bool
	}{
		{"ready", identity.Ready(p, profile()), false, KindNone, false},
		{"timed out", identity.Loading(p), true, KindProfileMissingOrTimeout, true},
		{"missing", identity.ProfileMissing(p), false, KindProfileMissingOrTimeout, true},
		{"signed out meanwhile", identity.SignedOut(), false, KindNoSession, false},
		{"store failure", identity.Unavailable(&p, storeDown), false, KindBackendUnavailable, false},
		{"stream load timeout", identity.Unavailable(&p, stream.ErrProfileLoadTimeout), false, KindProfileMissingOrTimeout, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := CheckProfile(tc.st, tc.timedOut, in)
			if out.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", out.Kind, tc.kind)
			}
			if out.HasEffect(EffectSignOut) != tc.signOut {
				t.Fatalf("sign-out effect = %v, want %v", out.HasEffect(EffectSignOut), tc.signOut)
			}
			if tc.kind == KindNone && !out.Allowed {
				t.Fatalf("expected allow")
			}
		})
	}
}

func TestCheckEntitlementEmptyRequirements(t *testing.T) {
	u := identity.CombinedUser{Principal: principal(true), Profile: profile()}
	if out := CheckEntitlement(u, FlagResult{}, Input{Path: "/x"}); !out.Allowed {
		t.Fatalf("route without requirements must allow: %+v", out)
	}
}

func TestKindStrings(t *testing.T) {
	if KindProfileMissingOrTimeout.String() != "profile_missing_or_timeout" {
		t.Fatalf("unexpected %q", KindProfileMissingOrTimeout.String())
	}
	if EffectSignOut.String() != "sign_out" {
		t.Fatalf("unexpected %q", EffectSignOut.String())
	}
}
