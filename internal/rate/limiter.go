package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter budgets. A zero MaxSignInAttempts disables sign-in
// throttling; a zero MaxVerificationRequests disables request throttling.
type Config struct {
	EnableIPThrottle        bool
	MaxSignInAttempts       int
	SignInCooldown          time.Duration
	MaxVerificationRequests int
	VerificationWindow      time.Duration
}

// Limiter enforces per-email and per-IP budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSignIn returns [ErrRateLimited] once the email or IP has used up
// its failure budget for the current window.
func (l *Limiter) CheckSignIn(ctx context.Context, email, ip string) error {
	if l.config.MaxSignInAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, signInEmailKey(email), l.config.MaxSignInAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, signInIPKey(ip), l.config.MaxSignInAttempts); err != nil {
			return err
		}
	}
	return nil
}

// IncrementSignIn records a failed sign-in.
func (l *Limiter) IncrementSignIn(ctx context.Context, email, ip string) error {
	if l.config.MaxSignInAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, signInEmailKey(email), l.config.SignInCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSignInAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, signInIPKey(ip), l.config.SignInCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxSignInAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetSignIn clears the failure counters after a successful sign-in.
func (l *Limiter) ResetSignIn(ctx context.Context, email, ip string) error {
	keys := []string{signInEmailKey(email)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, signInIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SignInAttempts returns the failure count for email. Missing keys read as
// zero.
func (l *Limiter) SignInAttempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, signInEmailKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// AllowVerificationRequest counts one verification request for userID and
// fails once the window budget is exceeded.
func (l *Limiter) AllowVerificationRequest(ctx context.Context, userID string) error {
	if l.config.MaxVerificationRequests <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, verificationKey(userID), l.config.VerificationWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxVerificationRequests) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func signInEmailKey(email string) string {
	return "rs:" + strings.ToLower(strings.TrimSpace(email))
}

func signInIPKey(ip string) string {
	return "rsi:" + ip
}

func verificationKey(userID string) string {
	return "rv:" + userID
}
