package gatekeeper

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password; the two are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSignInRateLimited is returned once the sign-in budget is spent.
	ErrSignInRateLimited = errors.New("sign-in rate limited")
	// ErrAccountExists is returned by Register for a claimed email.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned for operations on an unknown user id.
	ErrUserNotFound = errors.New("user not found")
	// ErrProfileNotFound is returned when a user has no profile record.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrVerificationInvalid covers wrong, expired, reused and malformed
	// verification tokens.
	ErrVerificationInvalid = errors.New("email verification invalid")
	// ErrVerificationRateLimited is returned when too many verification
	// tokens were requested.
	ErrVerificationRateLimited = errors.New("email verification rate limited")
	// ErrVerificationAttempts is returned when a challenge was burned by
	// wrong guesses.
	ErrVerificationAttempts = errors.New("email verification attempts exceeded")
	// ErrBackendUnavailable wraps store and cache failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTokenInvalid is returned for access tokens that fail verification.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrSessionNotFound is returned when a token's session no longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrGateNotReady is returned by operations whose backing store was not
	// configured.
	ErrGateNotReady = errors.New("gate not ready")
	// ErrInvalidEmail is returned by Register for malformed addresses.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrPasswordPolicy is returned for passwords outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidRoles is returned by SetRoles for an empty role set.
	ErrInvalidRoles = errors.New("invalid roles")
	// ErrGateClosed is returned after Close.
	ErrGateClosed = errors.New("gate closed")
)
