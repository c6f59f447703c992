package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const verificationRecordVersionV1 = 1

var (
	ErrVerificationNotFound         = errors.New("verification record not found")
	ErrVerificationSecretMismatch   = errors.New("verification secret mismatch")
	ErrVerificationAttemptsExceeded = errors.New("verification attempts exceeded")
	ErrVerificationRedisUnavailable = errors.New("verification redis unavailable")
)

// consumeVerificationLua atomically validates and consumes a record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = max attempts
// ARGV[3] = current unix time
//
// Layout: version(1) attempts(2) expiresAt(8) userIDLen(2) userID hash(32).
var consumeVerificationLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])

if string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)

local e = {string.byte(data, 4, 11)}
local expiresAt = 0
for _, b in ipairs(e) do
  expiresAt = expiresAt * 256 + b
end
if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local userIDLen = string.byte(data, 12) * 256 + string.byte(data, 13)
local hashOffset = 14 + userIDLen
local storedHash = string.sub(data, hashOffset, hashOffset + 31)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local newData = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {err='secret_mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// EmailVerificationRecord is a pending email verification challenge.
type EmailVerificationRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

// EmailVerificationStore keeps single-use verification challenges with a TTL.
type EmailVerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEmailVerificationStore creates a store under prefix (default "gv").
func NewEmailVerificationStore(redisClient redis.UniversalClient, prefix string) *EmailVerificationStore {
	if prefix == "" {
		prefix = "gv"
	}
	return &EmailVerificationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *EmailVerificationStore) key(verificationID string) string {
	return s.prefix + ":" + verificationID
}

// Save stores record under verificationID for ttl.
func (s *EmailVerificationStore) Save(ctx context.Context, verificationID string, record *EmailVerificationRecord, ttl time.Duration) error {
	encoded, err := encodeEmailVerificationRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(verificationID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

// Consume deletes and returns the record when providedHash matches. A
// mismatch counts one attempt; reaching maxAttempts deletes the record.
func (s *EmailVerificationStore) Consume(ctx context.Context, verificationID string, providedHash [32]byte, maxAttempts int) (*EmailVerificationRecord, error) {
	result, err := consumeVerificationLua.Run(ctx, s.redis,
		[]string{s.key(verificationID)},
		string(providedHash[:]),
		maxAttempts,
		time.Now().Unix(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return nil, ErrVerificationNotFound
		case "attempts_exceeded":
			return nil, ErrVerificationAttemptsExceeded
		case "secret_mismatch":
			return nil, ErrVerificationSecretMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrVerificationRedisUnavailable)
	}
	record, err := decodeEmailVerificationRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrVerificationSecretMismatch
	}
	return record, nil
}

func encodeEmailVerificationRecord(record *EmailVerificationRecord) ([]byte, error) {
	if len(record.UserID) > 65535 {
		return nil, errors.New("verification record user id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(verificationRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])
	return buf.Bytes(), nil
}

func decodeEmailVerificationRecord(data []byte) (*EmailVerificationRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != verificationRecordVersionV1 {
		return nil, errors.New("invalid verification record version")
	}

	record := &EmailVerificationRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}
	return record, nil
}
