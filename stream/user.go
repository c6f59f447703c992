package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zsportal/gatekeeper/identity"
)

var (
	// ErrSessionUnavailable wraps failures reported by the session source.
	ErrSessionUnavailable = errors.New("session source unavailable")
	// ErrProfileUnavailable wraps failures reported by the profile source.
	ErrProfileUnavailable = errors.New("profile source unavailable")
	// ErrProfileLoadTimeout is reported when the first profile value is late.
	ErrProfileLoadTimeout = errors.New("profile load timed out")
	// ErrUpstreamClosed is reported when a source ends its channel unasked.
	ErrUpstreamClosed = errors.New("upstream closed")
)

// Option configures a [UserStream].
type Option func(*combiner)

// WithProfileLoadTimeout bounds the wait for the first profile value after a
// principal change. Zero disables the bound.
func WithProfileLoadTimeout(d time.Duration) Option {
	return func(c *combiner) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// UserStream is the combined user stream for one session.
type UserStream struct {
	shared *Shared[identity.State]
}

// NewUserStream joins sessions with profiles. Nothing runs until the first
// Subscribe.
func NewUserStream(sessions SessionSource, profiles ProfileSource, opts ...Option) *UserStream {
	c := &combiner{sessions: sessions, profiles: profiles}
	for _, opt := range opts {
		opt(c)
	}
	return &UserStream{
		shared: NewShared(func(ctx context.Context, emit func(identity.State)) {
			// Each upstream start gets fresh bookkeeping.
			run := &combiner{sessions: c.sessions, profiles: c.profiles, loadTimeout: c.loadTimeout}
			run.run(ctx, emit)
		}, identity.State.Equal),
	}
}

// OnIdle registers fn to run after the last subscriber left and the
// upstream was stopped. It must be set before the first Subscribe.
func (u *UserStream) OnIdle(fn func()) {
	u.shared.onIdle = fn
}

// Subscribe returns a new consumer of the stream.
func (u *UserStream) Subscribe() *Subscription[identity.State] {
	return u.shared.Subscribe()
}

// Refs reports live subscribers.
func (u *UserStream) Refs() int {
	return u.shared.Refs()
}

// Close drops all subscribers and stops the upstream watches.
func (u *UserStream) Close() {
	u.shared.Close()
}

type combiner struct {
	sessions    SessionSource
	profiles    ProfileSource
	loadTimeout time.Duration

	principal  *identity.Principal
	sessionErr error

	status  identity.Status
	profile *identity.Profile
	err     error

	profileCh   <-chan ProfileEvent
	stopProfile context.CancelFunc
	timer       *time.Timer
	timeoutC    <-chan time.Time
}

func (c *combiner) run(ctx context.Context, emit func(identity.State)) {
	defer c.closeProfile()

	events, err := c.sessions.WatchSession(ctx)
	if err != nil {
		emit(identity.Unavailable(nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)))
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				if ctx.Err() != nil {
					return
				}
				c.closeProfile()
				emit(identity.Unavailable(c.principal, fmt.Errorf("%w: %w", ErrSessionUnavailable, ErrUpstreamClosed)))
				continue
			}
			c.onSession(ctx, ev, emit)

		case ev, ok := <-c.profileCh:
			if !ok {
				c.profileCh = nil
				if ctx.Err() != nil {
					return
				}
				c.setProfileErr(fmt.Errorf("%w: %w", ErrProfileUnavailable, ErrUpstreamClosed))
				emit(c.state())
				continue
			}
			c.onProfile(ev)
			emit(c.state())

		case <-c.timeoutC:
			c.timeoutC = nil
			if c.status == identity.StatusLoading {
				c.setProfileErr(ErrProfileLoadTimeout)
				emit(c.state())
			}
		}
	}
}

func (c *combiner) onSession(ctx context.Context, ev SessionEvent, emit func(identity.State)) {
	if ev.Err != nil {
		c.sessionErr = fmt.Errorf("%w: %v", ErrSessionUnavailable, ev.Err)
		emit(identity.Unavailable(c.principal, c.sessionErr))
		return
	}
	c.sessionErr = nil

	if ev.Principal == nil {
		c.closeProfile()
		c.principal = nil
		emit(identity.SignedOut())
		return
	}

	p := *ev.Principal
	if c.principal != nil && c.principal.ID == p.ID && c.profileCh != nil {
		// Same account (token refresh, verification flag flip): keep the
		// profile subscription and let equality coalesce the emission.
		c.principal = &p
		emit(c.state())
		return
	}

	c.closeProfile()
	c.principal = &p
	c.openProfile(ctx, p.ID)
	emit(c.state())
}

func (c *combiner) openProfile(ctx context.Context, userID string) {
	pctx, cancel := context.WithCancel(ctx)
	ch, err := c.profiles.WatchProfile(pctx, userID)
	if err != nil {
		cancel()
		c.setProfileErr(fmt.Errorf("%w: %v", ErrProfileUnavailable, err))
		return
	}
	c.profileCh = ch
	c.stopProfile = cancel
	c.status = identity.StatusLoading
	c.profile = nil
	c.err = nil
	if c.loadTimeout > 0 {
		c.timer = time.NewTimer(c.loadTimeout)
		c.timeoutC = c.timer.C
	}
}

func (c *combiner) onProfile(ev ProfileEvent) {
	c.stopTimer()
	switch {
	case ev.Err != nil:
		c.setProfileErr(fmt.Errorf("%w: %v", ErrProfileUnavailable, ev.Err))
	case ev.Profile == nil:
		c.status = identity.StatusProfileMissing
		c.profile = nil
		c.err = nil
	default:
		prof := ev.Profile.Clone()
		c.status = identity.StatusReady
		c.profile = &prof
		c.err = nil
	}
}

func (c *combiner) setProfileErr(err error) {
	c.stopTimer()
	c.status = identity.StatusUnavailable
	c.profile = nil
	c.err = err
}

func (c *combiner) closeProfile() {
	c.stopTimer()
	if c.stopProfile != nil {
		c.stopProfile()
		c.stopProfile = nil
	}
	c.profileCh = nil
	c.status = identity.StatusLoading
	c.profile = nil
	c.err = nil
}

func (c *combiner) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timeoutC = nil
}

func (c *combiner) state() identity.State {
	if c.principal == nil {
		return identity.SignedOut()
	}
	if c.sessionErr != nil {
		return identity.Unavailable(c.principal, c.sessionErr)
	}
	switch c.status {
	case identity.StatusReady:
		return identity.Ready(*c.principal, *c.profile)
	case identity.StatusProfileMissing:
		return identity.ProfileMissing(*c.principal)
	case identity.StatusUnavailable:
		return identity.Unavailable(c.principal, c.err)
	default:
		return identity.Loading(*c.principal)
	}
}
