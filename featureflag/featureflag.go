// Package featureflag answers whether a named feature is switched on.
package featureflag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps failed flag lookups.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrInvalidKey is returned for empty flag names.
var ErrInvalidKey = errors.New("invalid feature flag key")

// RedisStore keeps every flag as one field of a Redis hash. Unknown flags
// are off.
type RedisStore struct {
	redis redis.UniversalClient
	key   string
}

// NewRedisStore stores flags in the hash named key.
func NewRedisStore(rdb redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "gf:flags"
	}
	return &RedisStore{redis: rdb, key: key}
}

// IsEnabled reports the state of flag.
func (s *RedisStore) IsEnabled(ctx context.Context, flag string) (bool, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return false, ErrInvalidKey
	}
	v, err := s.redis.HGet(ctx, s.key, flag).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return on, nil
}

// Set switches flag on or off.
func (s *RedisStore) Set(ctx context.Context, flag string, on bool) error {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return ErrInvalidKey
	}
	if err := s.redis.HSet(ctx, s.key, flag, strconv.FormatBool(on)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// All returns every stored flag.
func (s *RedisStore) All(ctx context.Context) (map[string]bool, error) {
	raw, err := s.redis.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		on, _ := strconv.ParseBool(v)
		out[k] = on
	}
	return out, nil
}

// Static is an in-memory flag set, safe for concurrent use.
type Static struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStatic returns a set with the given flags switched on.
func NewStatic(enabled ...string) *Static {
	s := &Static{flags: make(map[string]bool, len(enabled))}
	for _, f := range enabled {
		s.flags[f] = true
	}
	return s
}

func (s *Static) IsEnabled(_ context.Context, flag string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[flag], nil
}

func (s *Static) Set(_ context.Context, flag string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flag] = on
	return nil
}
