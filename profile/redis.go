package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/stream"
)

const maxUpdateAttempts = 8

// RedisStore keeps profiles as JSON documents in Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a profile store under the given key prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gp"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":p:" + userID
}

func (s *RedisStore) channel(userID string) string {
	return s.prefix + ":ev:" + userID
}

// Get returns the profile of userID or [ErrNotFound].
func (s *RedisStore) Get(ctx context.Context, userID string) (identity.Profile, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return identity.Profile{}, ErrNotFound
		}
		return identity.Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p, err := unmarshalProfile(data)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("%w: corrupt profile: %v", ErrUnavailable, err)
	}
	return p, nil
}

// Create stores a new profile. It fails with [ErrExists] if one is present.
func (s *RedisStore) Create(ctx context.Context, p identity.Profile) error {
	if p.UserID == "" {
		return errors.New("profile user id is required")
	}
	if len(p.Roles) == 0 {
		return identity.ErrEmptyRoles
	}
	data, err := marshalProfile(p)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, s.key(p.UserID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return ErrExists
	}
	if err := s.redis.Publish(ctx, s.channel(p.UserID), "created").Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Update applies patch under an optimistic WATCH transaction and returns
// the stored result.
func (s *RedisStore) Update(ctx context.Context, userID string, patch identity.Patch) (identity.Profile, error) {
	key := s.key(userID)
	var out identity.Profile

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		cur, err := unmarshalProfile(data)
		if err != nil {
			return err
		}
		next, err := patch.Apply(cur)
		if err != nil {
			return err
		}
		if next.Equal(cur) {
			out = cur
			return nil
		}
		encoded, err := marshalProfile(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.Publish(ctx, s.channel(userID), "updated")
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrEmptyRoles):
			return identity.Profile{}, err
		default:
			return identity.Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return identity.Profile{}, ErrConflict
}

// Delete removes the profile of userID.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(userID))
		pipe.Publish(ctx, s.channel(userID), "deleted")
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// WatchProfile emits the current profile of userID and re-reads it on every
// published change. A missing record is reported as a nil Profile.
func (s *RedisStore) WatchProfile(ctx context.Context, userID string) (<-chan stream.ProfileEvent, error) {
	pubsub := s.redis.Subscribe(ctx, s.channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan stream.ProfileEvent, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		if !s.emit(ctx, userID, out) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				if !s.emit(ctx, userID, out) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) emit(ctx context.Context, userID string, out chan<- stream.ProfileEvent) bool {
	var ev stream.ProfileEvent
	p, err := s.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		ev.Err = err
	default:
		ev.Profile = &p
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
