// Package jwt issues and verifies the access tokens that carry a session
// key to API clients. A token only names a session; whether the session is
// still live is decided by the session store, not by the token.
package jwt
