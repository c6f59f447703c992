package session

import "github.com/zsportal/gatekeeper/identity"

// CurrentSchemaVersion is the binary schema written by [Encode].
const CurrentSchemaVersion uint8 = 2

// Session is the server-side record behind a session key.
//
// Email and EmailVerified mirror the identity provider's view of the
// principal; they are updated in place when the address is verified.
type Session struct {
	SchemaVersion uint8

	SessionID     string
	UserID        string
	Email         string
	EmailVerified bool

	CreatedAt int64
	ExpiresAt int64
}

// Principal returns the identity carried by the session.
func (s *Session) Principal() identity.Principal {
	return identity.Principal{
		ID:            s.UserID,
		Email:         s.Email,
		EmailVerified: s.EmailVerified,
	}
}
