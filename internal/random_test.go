package internal

import (
	"errors"
	"testing"
)

func TestChallengeTokenRoundTrip(t *testing.T) {
	id, secret, err := NewChallenge()
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	gotID, gotSecret, err := DecodeChallengeToken(EncodeChallengeToken(id, secret))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotID != id || gotSecret != secret {
		t.Fatal("token did not round trip")
	}
	if len(id.String()) != 32 {
		t.Fatalf("unexpected id string %q", id.String())
	}
}

func TestDecodeChallengeTokenRejectsGarbage(t *testing.T) {
	for _, tok := range []string{"", "not base64!", "c2hvcnQ"} {
		if _, _, err := DecodeChallengeToken(tok); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%q: expected ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestChallengesAreDistinct(t *testing.T) {
	a, sa, _ := NewChallenge()
	b, sb, _ := NewChallenge()
	if a == b || sa == sb || HashSecret(sa) == HashSecret(sb) {
		t.Fatal("expected distinct challenges")
	}
}
