// Package otp implements the one-time-code challenge: issuing, validating,
// and clearing short-lived numeric codes with server-side attempt tracking.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echonote/echonote-api/internal/domain"
)

const recordKeyPrefix = "otp:code:"

// Record is the stored challenge state. Only the digest of the code is
// persisted; interception of the store must not leak the code.
type Record struct {
	CodeHash  string `json:"codeHash"`
	ExpiresAt int64  `json:"expiresAt"`
	Attempts  int    `json:"attempts"`
}

// validateLua checks a submitted code digest against the stored record in a
// single atomic step.
// KEYS[1] = record key
// ARGV[1] = submitted code digest (hex)
// ARGV[2] = current unix timestamp
// ARGV[3] = max attempts
//
// Check order is load-bearing: expiry first, then the attempt ceiling
// (without incrementing further, so a locked-out identity cannot extend its
// own lockout), then the digest compare, which persists an attempt increment
// on mismatch while preserving the remaining TTL. The mismatch that lands on
// the ceiling already reports the lockout.
var validateLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local rec = cjson.decode(data)
local now = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[3])

if now > rec.expiresAt then
  return {err='expired'}
end

if rec.attempts >= maxAttempts then
  return {err='attempts_exceeded'}
end

if rec.codeHash ~= ARGV[1] then
  rec.attempts = rec.attempts + 1
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs > 0 then
    redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttlMs)
  end
  if rec.attempts >= maxAttempts then
    return {err='attempts_exceeded'}
  end
  return {err='mismatch'}
end

return data
`)

// Config tunes code generation and validation.
type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// Engine generates, validates, and clears one-time codes against the shared
// store. Safe for concurrent use.
type Engine struct {
	redis  redis.UniversalClient
	config Config
}

func NewEngine(redisClient redis.UniversalClient, cfg Config) *Engine {
	return &Engine{redis: redisClient, config: cfg}
}

func recordKey(identity string) string {
	return recordKeyPrefix + identity
}

// Issue generates a fresh code for the identity, superseding any pending
// one: attempts reset to zero and a new expiry is installed. The plaintext
// code is returned for out-of-band delivery only.
func (e *Engine) Issue(ctx context.Context, identity string) (string, error) {
	code, err := generateCode(e.config.Digits)
	if err != nil {
		return "", err
	}

	record := Record{
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(e.config.TTL).Unix(),
		Attempts:  0,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return "", fmt.Errorf("encode otp record: %w", err)
	}

	if err := e.redis.Set(ctx, recordKey(identity), data, e.config.TTL).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return code, nil
}

// Validate checks the submitted code against the pending record. On mismatch
// the stored attempt counter is incremented as an observable side effect.
// On success the record is left in place; the caller clears it.
func (e *Engine) Validate(ctx context.Context, identity, submitted string) error {
	submittedHash := hashCode(submitted)

	result, err := validateLua.Run(ctx, e.redis,
		[]string{recordKey(identity)},
		submittedHash,
		time.Now().Unix(),
		e.config.MaxAttempts,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return domain.ErrNotFound
		case "expired":
			return domain.ErrExpired
		case "attempts_exceeded":
			return domain.ErrMaxAttempts
		case "mismatch":
			return domain.ErrMismatch
		default:
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return fmt.Errorf("%w: unexpected lua result type", domain.ErrStoreUnavailable)
	}

	var record Record
	if decErr := json.Unmarshal([]byte(data), &record); decErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, decErr)
	}

	// Final constant-time comparison in Go as defense-in-depth
	// (Lua already matched, but Lua string comparison is not constant-time).
	if subtle.ConstantTimeCompare([]byte(record.CodeHash), []byte(submittedHash)) != 1 {
		return domain.ErrMismatch
	}

	return nil
}

// Clear deletes the pending record. Called after successful verification.
func (e *Engine) Clear(ctx context.Context, identity string) error {
	if err := e.redis.Del(ctx, recordKey(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Attempts returns the current attempt counter for the identity. Missing
// records return zero.
func (e *Engine) Attempts(ctx context.Context, identity string) (int, error) {
	data, err := e.redis.Get(ctx, recordKey(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return record.Attempts, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// generateCode draws each digit independently from crypto/rand so the code
// is uniform over its range, not modulo-biased.
func generateCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
