package jwt

import (
	"testing"
	"time"
)

func FuzzParseAccess(f *testing.F) {
	m, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    hsKey,
		Issuer:        "gatekeeper",
	})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := m.CreateAccess("u1", "s1")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.ParseAccess(input)
		if err != nil {
			return
		}
		if claims.UID == "" || claims.SID == "" {
			t.Fatalf("accepted claims without subject: %+v", claims)
		}
	})
}
