package stream

import (
	"context"

	"github.com/zsportal/gatekeeper/identity"
)

// SessionEvent is one emission of the identity session source. A nil
// Principal with a nil Err means nobody is signed in.
type SessionEvent struct {
	Principal *identity.Principal
	Err       error
}

// ProfileEvent is one emission of a profile watch. A nil Profile with a nil
// Err means the record does not exist (or was deleted).
type ProfileEvent struct {
	Profile *identity.Profile
	Err     error
}

// SessionSource reports the current principal for one session.
//
// WatchSession emits the current value immediately and then on every change
// until ctx is cancelled.
type SessionSource interface {
	WatchSession(ctx context.Context) (<-chan SessionEvent, error)
	SignOut(ctx context.Context) error
}

// ProfileSource opens live subscriptions to profile records.
//
// WatchProfile emits the current record immediately and then on every
// change until ctx is cancelled, after which the channel is closed.
type ProfileSource interface {
	WatchProfile(ctx context.Context, userID string) (<-chan ProfileEvent, error)
}

type noSession struct{}

// NoSession is a source for requests that carry no usable credentials.
func NoSession() SessionSource {
	return noSession{}
}

func (noSession) WatchSession(context.Context) (<-chan SessionEvent, error) {
	ch := make(chan SessionEvent, 1)
	ch <- SessionEvent{}
	return ch, nil
}

func (noSession) SignOut(context.Context) error {
	return nil
}
