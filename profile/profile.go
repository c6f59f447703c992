package profile

import (
	"context"
	"errors"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/stream"
)

var (
	// ErrNotFound is returned when no profile exists for the user.
	ErrNotFound = errors.New("profile not found")
	// ErrExists is returned by Create when the user already has a profile.
	ErrExists = errors.New("profile already exists")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("profile store unavailable")
	// ErrConflict is returned when an update kept losing optimistic races.
	ErrConflict = errors.New("profile update conflict")
)

// Store is the profile persistence contract.
//
// Update applies a patch atomically against the current record; Delete of
// a missing profile is not an error. WatchProfile emits the current record
// and then every committed change.
type Store interface {
	stream.ProfileSource

	Get(ctx context.Context, userID string) (identity.Profile, error)
	Create(ctx context.Context, p identity.Profile) error
	Update(ctx context.Context, userID string, patch identity.Patch) (identity.Profile, error)
	Delete(ctx context.Context, userID string) error
}
