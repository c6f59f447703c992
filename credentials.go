package gatekeeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zsportal/gatekeeper/internal/stores"
)

// Credential binds a sign-in email to a user and its password hash.
type Credential struct {
	UserID        string
	Email         string
	PasswordHash  string
	EmailVerified bool
}

// CredentialStore persists sign-in credentials.
//
// Lookups of unknown users return [ErrUserNotFound]; Create of a claimed
// email returns [ErrAccountExists]. Emails are matched case-insensitively.
type CredentialStore interface {
	Create(ctx context.Context, c Credential) error
	ByEmail(ctx context.Context, email string) (Credential, error)
	ByUserID(ctx context.Context, userID string) (Credential, error)
	UpdateHash(ctx context.Context, userID, hash string) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	Delete(ctx context.Context, userID string) error
}

// NewRedisCredentialStore returns the built-in Redis credential store.
func NewRedisCredentialStore(rdb redis.UniversalClient, prefix string) CredentialStore {
	return redisCredentials{store: stores.NewCredentialStore(rdb, prefix)}
}

type redisCredentials struct {
	store *stores.CredentialStore
}

func (r redisCredentials) Create(ctx context.Context, c Credential) error {
	return mapCredentialErr(r.store.Create(ctx, stores.Credential(c)))
}

func (r redisCredentials) ByEmail(ctx context.Context, email string) (Credential, error) {
	c, err := r.store.ByEmail(ctx, email)
	return Credential(c), mapCredentialErr(err)
}

func (r redisCredentials) ByUserID(ctx context.Context, userID string) (Credential, error) {
	c, err := r.store.ByUserID(ctx, userID)
	return Credential(c), mapCredentialErr(err)
}

func (r redisCredentials) UpdateHash(ctx context.Context, userID, hash string) error {
	return mapCredentialErr(r.store.UpdateHash(ctx, userID, hash))
}

func (r redisCredentials) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	return mapCredentialErr(r.store.SetEmailVerified(ctx, userID, verified))
}

func (r redisCredentials) Delete(ctx context.Context, userID string) error {
	return mapCredentialErr(r.store.Delete(ctx, userID))
}

func mapCredentialErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCredentialNotFound):
		return ErrUserNotFound
	case errors.Is(err, stores.ErrCredentialExists):
		return ErrAccountExists
	case errors.Is(err, stores.ErrCredentialRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return err
	}
}
