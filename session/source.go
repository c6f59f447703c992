package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsportal/gatekeeper/stream"
)

// Source is the live view of one session key.
//
// It emits the current principal on start and again whenever the session
// is saved, updated, deleted, or reaches its expiry.
type Source struct {
	store     *Store
	sessionID string
}

// Source returns the live view of sessionID.
func (s *Store) Source(sessionID string) *Source {
	return &Source{store: s, sessionID: sessionID}
}

// WatchSession subscribes to changes of the session. The channel closes
// once ctx is done.
func (src *Source) WatchSession(ctx context.Context) (<-chan stream.SessionEvent, error) {
	if !ValidID(src.sessionID) {
		return stream.NoSession().WatchSession(ctx)
	}

	pubsub := src.store.redis.Subscribe(ctx, src.store.channel(src.sessionID))
	// The subscription must be confirmed before the first read, otherwise a
	// change between read and subscribe is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Join(ErrRedisUnavailable, err)
	}

	out := make(chan stream.SessionEvent, 1)
	go src.run(ctx, pubsub.Channel(), func() { _ = pubsub.Close() }, out)
	return out, nil
}

// SignOut deletes the session; open watches observe the deletion.
func (src *Source) SignOut(ctx context.Context) error {
	return src.store.Delete(ctx, src.sessionID)
}

func (src *Source) run(ctx context.Context, msgs <-chan *redis.Message, closeSub func(), out chan<- stream.SessionEvent) {
	defer close(out)
	defer closeSub()

	var (
		expiry  *time.Timer
		expiryC <-chan time.Time
	)
	stopExpiry := func() {
		if expiry != nil {
			expiry.Stop()
			expiry = nil
		}
		expiryC = nil
	}
	defer stopExpiry()

	emitCurrent := func() bool {
		ev, expiresAt := src.read(ctx)
		stopExpiry()
		if !expiresAt.IsZero() {
			expiry = time.NewTimer(time.Until(expiresAt))
			expiryC = expiry.C
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emitCurrent() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					select {
					case out <- stream.SessionEvent{Err: errors.Join(ErrRedisUnavailable, stream.ErrUpstreamClosed)}:
					case <-ctx.Done():
					}
				}
				return
			}
			if !emitCurrent() {
				return
			}
		case <-expiryC:
			expiryC = nil
			if !emitCurrent() {
				return
			}
		}
	}
}

func (src *Source) read(ctx context.Context) (stream.SessionEvent, time.Time) {
	sess, err := src.store.Get(ctx, src.sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		return stream.SessionEvent{}, time.Time{}
	case err != nil:
		return stream.SessionEvent{Err: err}, time.Time{}
	}
	p := sess.Principal()
	return stream.SessionEvent{Principal: &p}, time.Unix(sess.ExpiresAt, 0)
}
