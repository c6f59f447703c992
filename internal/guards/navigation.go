package guards

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/stream"
)

// DefaultTimeout bounds every wait on the user stream.
const DefaultTimeout = 5 * time.Second

// ErrNoStream is returned when a navigation has nothing to subscribe to.
var ErrNoStream = errors.New("navigation has no user stream")

// Opener opens the shared user stream for one navigation attempt.
type Opener func() *stream.Subscription[identity.State]

// Navigation is one attempt to activate a protected view.
//
// It owns at most one subscription to the combined user stream, opened by
// the first guard that needs it, and pins the first emission and the first
// resolved snapshot so every guard of the attempt sees the same user.
type Navigation struct {
	ID      string
	Input   Input
	Timeout time.Duration

	open Opener

	waitMu sync.Mutex

	mu       sync.Mutex
	sub      *stream.Subscription[identity.State]
	first    *identity.State
	last     identity.State
	resolved *identity.State
	timedOut bool
	closed   bool
}

// NewNavigation prepares an attempt. Nothing is subscribed until a guard
// asks for the user.
func NewNavigation(id string, in Input, timeout time.Duration, open Opener) *Navigation {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Navigation{
		ID:      id,
		Input:   in,
		Timeout: timeout,
		open:    open,
	}
}

// First returns the first emission of the stream, waiting at most Timeout.
// ok is false when the wait timed out.
func (n *Navigation) First(ctx context.Context) (st identity.State, ok bool, err error) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()

	if first, ok := n.pinnedFirst(); ok {
		return first, true, nil
	}
	sub, err := n.subscription()
	if err != nil {
		return identity.State{}, false, err
	}

	wctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	v, err := sub.Next(wctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return identity.State{}, false, nil
		}
		return identity.State{}, false, err
	}
	n.record(v)
	return v, true, nil
}

// Resolve returns the first resolved snapshot (anything but loading),
// waiting at most Timeout from the call. timedOut reports an expired wait;
// the returned state is then the last one seen.
func (n *Navigation) Resolve(ctx context.Context) (st identity.State, timedOut bool, err error) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()

	if snap, ok := n.Snapshot(); ok {
		return snap, false, nil
	}
	n.mu.Lock()
	expired := n.timedOut
	n.mu.Unlock()
	if expired {
		return n.lastSeen(), true, nil
	}

	sub, err := n.subscription()
	if err != nil {
		return identity.State{}, false, err
	}

	wctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	for {
		v, err := sub.Next(wctx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				n.mu.Lock()
				n.timedOut = true
				n.mu.Unlock()
				return n.lastSeen(), true, nil
			}
			return identity.State{}, false, err
		}
		if n.record(v) {
			return v, false, nil
		}
	}
}

// Snapshot returns the pinned resolved state, if any.
func (n *Navigation) Snapshot() (identity.State, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resolved == nil {
		return identity.State{}, false
	}
	return *n.resolved, true
}

// Close releases the subscription and unblocks a pending wait, which then
// fails with stream.ErrClosed.
func (n *Navigation) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.sub != nil {
		n.sub.Close()
	}
}

// user resolves the combined user or the denial that replaces it.
func (n *Navigation) user(ctx context.Context) (identity.CombinedUser, Outcome, bool) {
	st, timedOut, err := n.Resolve(ctx)
	if err != nil {
		return identity.CombinedUser{}, n.failure(ctx, err), false
	}
	if u, ok := st.User(); ok && !timedOut {
		return u, Outcome{}, true
	}
	return identity.CombinedUser{}, CheckProfile(st, timedOut, n.Input), false
}

func (n *Navigation) failure(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		out := deny(KindCancelled, "cancelled", n.Input.login())
		out.Err = ctx.Err()
		return out
	}
	out := deny(KindBackendUnavailable, "stream_closed", n.Input.login())
	out.Err = err
	return out
}

func (n *Navigation) subscription() (*stream.Subscription[identity.State], error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, stream.ErrClosed
	}
	if n.sub != nil {
		return n.sub, nil
	}
	if n.open == nil {
		return nil, ErrNoStream
	}
	n.sub = n.open()
	if n.sub == nil {
		return nil, ErrNoStream
	}
	return n.sub, nil
}

func (n *Navigation) pinnedFirst() (identity.State, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.first == nil {
		return identity.State{}, false
	}
	return *n.first, true
}

// record pins v and reports whether it became the resolved snapshot.
func (n *Navigation) record(v identity.State) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.first == nil {
		first := v
		n.first = &first
	}
	n.last = v
	if n.resolved == nil && v.Resolved() {
		resolved := v
		n.resolved = &resolved
		return true
	}
	return false
}

func (n *Navigation) lastSeen() identity.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.first == nil {
		return identity.State{Status: identity.StatusLoading}
	}
	return n.last
}
