package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	challengeIDSize     = 16
	challengeSecretSize = 32
	challengeTokenSize  = challengeIDSize + challengeSecretSize
)

// ErrMalformedToken is returned by [DecodeChallengeToken] for tokens that are
// not base64url or have the wrong length.
var ErrMalformedToken = errors.New("malformed challenge token")

// ChallengeID names a single-use challenge record.
type ChallengeID [challengeIDSize]byte

func (c ChallengeID) String() string {
	return hex.EncodeToString(c[:])
}

// NewChallenge returns a random id and secret.
func NewChallenge() (ChallengeID, [challengeSecretSize]byte, error) {
	var (
		id     ChallengeID
		secret [challengeSecretSize]byte
	)
	if _, err := rand.Read(id[:]); err != nil {
		return id, secret, err
	}
	if _, err := rand.Read(secret[:]); err != nil {
		return id, secret, err
	}
	return id, secret, nil
}

// HashSecret is the stored form of a challenge secret.
func HashSecret(secret [challengeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeChallengeToken packs id and secret into the opaque token handed to
// the user.
func EncodeChallengeToken(id ChallengeID, secret [challengeSecretSize]byte) string {
	var raw [challengeTokenSize]byte
	copy(raw[:challengeIDSize], id[:])
	copy(raw[challengeIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeChallengeToken reverses [EncodeChallengeToken].
func DecodeChallengeToken(token string) (ChallengeID, [challengeSecretSize]byte, error) {
	var (
		id     ChallengeID
		secret [challengeSecretSize]byte
	)
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != challengeTokenSize {
		return id, secret, ErrMalformedToken
	}
	copy(id[:], raw[:challengeIDSize])
	copy(secret[:], raw[challengeIDSize:])
	return id, secret, nil
}
