package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCredentialNotFound         = errors.New("credential not found")
	ErrCredentialExists           = errors.New("credential already exists")
	ErrCredentialRedisUnavailable = errors.New("credential redis unavailable")
)

// Credential binds a sign-in email to a user id and password hash.
type Credential struct {
	UserID        string
	Email         string
	PasswordHash  string
	EmailVerified bool
}

// CredentialStore keeps credentials in a Redis hash per email, plus a
// user id to email index.
type CredentialStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCredentialStore creates a store under prefix (default "gc").
func NewCredentialStore(redisClient redis.UniversalClient, prefix string) *CredentialStore {
	if prefix == "" {
		prefix = "gc"
	}
	return &CredentialStore{redis: redisClient, prefix: prefix}
}

// NormalizeEmail is the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *CredentialStore) emailKey(email string) string {
	return s.prefix + ":e:" + NormalizeEmail(email)
}

func (s *CredentialStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// createCredentialLua writes both keys only if the email is unclaimed.
// KEYS[1] = email key, KEYS[2] = user key
// ARGV[1] = user id, ARGV[2] = email, ARGV[3] = password hash, ARGV[4] = verified flag
var createCredentialLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'uid', ARGV[1], 'email', ARGV[2], 'hash', ARGV[3], 'verified', ARGV[4])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// Create stores c. An email already in use yields [ErrCredentialExists].
func (s *CredentialStore) Create(ctx context.Context, c Credential) error {
	if c.UserID == "" || c.Email == "" || c.PasswordHash == "" {
		return errors.New("credential user id, email and hash are required")
	}
	email := NormalizeEmail(c.Email)
	created, err := createCredentialLua.Run(ctx, s.redis,
		[]string{s.emailKey(email), s.userKey(c.UserID)},
		c.UserID, email, c.PasswordHash, strconv.FormatBool(c.EmailVerified),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialRedisUnavailable, err)
	}
	if created == 0 {
		return ErrCredentialExists
	}
	return nil
}

// ByEmail returns the credential for email.
func (s *CredentialStore) ByEmail(ctx context.Context, email string) (Credential, error) {
	fields, err := s.redis.HGetAll(ctx, s.emailKey(email)).Result()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return Credential{}, ErrCredentialNotFound
	}
	verified, _ := strconv.ParseBool(fields["verified"])
	return Credential{
		UserID:        fields["uid"],
		Email:         fields["email"],
		PasswordHash:  fields["hash"],
		EmailVerified: verified,
	}, nil
}

// ByUserID returns the credential of userID.
func (s *CredentialStore) ByUserID(ctx context.Context, userID string) (Credential, error) {
	email, err := s.redis.Get(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialRedisUnavailable, err)
	}
	return s.ByEmail(ctx, email)
}

// UpdateHash replaces the stored password hash of userID.
func (s *CredentialStore) UpdateHash(ctx context.Context, userID, hash string) error {
	return s.setField(ctx, userID, "hash", hash)
}

// SetEmailVerified records whether userID confirmed their email.
func (s *CredentialStore) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	return s.setField(ctx, userID, "verified", strconv.FormatBool(verified))
}

func (s *CredentialStore) setField(ctx context.Context, userID, field, value string) error {
	c, err := s.ByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, s.emailKey(c.Email), field, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialRedisUnavailable, err)
	}
	return nil
}

// Delete removes the credential of userID.
func (s *CredentialStore) Delete(ctx context.Context, userID string) error {
	c, err := s.ByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.emailKey(c.Email), s.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialRedisUnavailable, err)
	}
	return nil
}
