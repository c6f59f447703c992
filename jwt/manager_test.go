package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var hsKey = []byte("0123456789abcdef0123456789abcdef")

func newEdManager(t *testing.T) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "gatekeeper",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func signed(t *testing.T, method gjwt.SigningMethod, key any, c AccessClaims) string {
	t.Helper()
	s, err := gjwt.NewWithClaims(method, c).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func claimsAt(iss string, iat, exp time.Time) AccessClaims {
	return AccessClaims{UID: "u1", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    iss,
		IssuedAt:  gjwt.NewNumericDate(iat),
		ExpiresAt: gjwt.NewNumericDate(exp),
	}}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	tests := map[string]Config{
		"zero ttl":        {SigningMethod: MethodHS256, PrivateKey: hsKey},
		"large leeway":    {AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: hsKey, Leeway: time.Hour},
		"hs256 no key":    {AccessTTL: time.Minute, SigningMethod: MethodHS256},
		"ed25519 no key":  {AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		"ed25519 garbage": {AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: []byte("nope")},
		"unknown method":  {AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: hsKey},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCreateAccessRoundTrip(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: hsKey})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := m.CreateAccess("u1", "s1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID != "u1" || claims.SID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := m.CreateAccess("", "s1"); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestParseAccessRejections(t *testing.T) {
	m, priv := newEdManager(t)
	now := time.Now()

	noSID := claimsAt("gatekeeper", now, now.Add(time.Minute))
	noSID.SID = ""
	noExp := claimsAt("gatekeeper", now, now)
	noExp.ExpiresAt = nil

	tests := map[string]string{
		"wrong algorithm": signed(t, gjwt.SigningMethodHS256, hsKey, claimsAt("gatekeeper", now, now.Add(time.Minute))),
		"wrong issuer":    signed(t, gjwt.SigningMethodEdDSA, priv, claimsAt("other", now, now.Add(time.Minute))),
		"expired":         signed(t, gjwt.SigningMethodEdDSA, priv, claimsAt("gatekeeper", now.Add(-3*time.Minute), now.Add(-2*time.Minute))),
		"issued later":    signed(t, gjwt.SigningMethodEdDSA, priv, claimsAt("gatekeeper", now.Add(time.Hour), now.Add(2*time.Hour))),
		"missing sid":     signed(t, gjwt.SigningMethodEdDSA, priv, noSID),
		"missing exp":     signed(t, gjwt.SigningMethodEdDSA, priv, noExp),
		"garbage":         "not.a.jwt",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.ParseAccess(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseAccessHonoursLeeway(t *testing.T) {
	m, priv := newEdManager(t)
	now := time.Now()
	tok := signed(t, gjwt.SigningMethodEdDSA, priv, claimsAt("gatekeeper", now.Add(-time.Minute), now.Add(-15*time.Second)))
	if _, err := m.ParseAccess(tok); err != nil {
		t.Fatalf("token within leeway must parse: %v", err)
	}
}

func TestVerifyOnlyManagerCannotSign(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.CreateAccess("u1", "s1"); !errors.Is(err, ErrSigningKey) {
		t.Fatalf("expected ErrSigningKey, got %v", err)
	}
}
