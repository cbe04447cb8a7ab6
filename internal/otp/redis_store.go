package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps the key alive past its logical expiry so a late verify
// sees "expired" instead of "missing".
const expiryGrace = 5 * time.Minute

type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a challenge store backed by Redis, so verification
// works regardless of which service instance issued the challenge.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

func challengeKey(sessionID uuid.UUID, purpose Purpose) string {
	return fmt.Sprintf("otp:%s:%s", purpose, sessionID.String())
}

func (s *RedisStore) Put(ctx context.Context, sessionID uuid.UUID, purpose Purpose, code string, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).Unix()
	val := fmt.Sprintf("%s:%d", code, expiresAt)

	// Plain SET: overwriting is the desired behavior, a re-issue invalidates
	// the previous challenge.
	if err := s.client.Set(ctx, challengeKey(sessionID, purpose), val, ttl+expiryGrace).Err(); err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}
	return nil
}

// consumeScript verifies and deletes in one round trip so two concurrent
// verifies cannot both consume the same code.
var consumeScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
  return "missing"
end
local sep = string.find(val, ":", 1, true)
local code = string.sub(val, 1, sep - 1)
local expires = tonumber(string.sub(val, sep + 1))
if tonumber(ARGV[2]) > expires then
  redis.call("DEL", KEYS[1])
  return "expired"
end
if code ~= ARGV[1] then
  return "mismatch"
end
redis.call("DEL", KEYS[1])
return "ok"
`)

func (s *RedisStore) Consume(ctx context.Context, sessionID uuid.UUID, purpose Purpose, submitted string) error {
	key := challengeKey(sessionID, purpose)
	nowUnix := strconv.FormatInt(s.now().Unix(), 10)

	res, err := consumeScript.Run(ctx, s.client, []string{key}, submitted, nowUnix).Text()
	if err != nil {
		return fmt.Errorf("consume otp challenge: %w", err)
	}

	switch res {
	case "ok":
		return nil
	case "missing":
		return ErrMissing
	case "expired":
		return ErrExpired
	case "mismatch":
		return ErrMismatch
	default:
		return fmt.Errorf("consume otp challenge: unexpected result %q", res)
	}
}

func (s *RedisStore) Delete(ctx context.Context, sessionID uuid.UUID, purpose Purpose) error {
	if err := s.client.Del(ctx, challengeKey(sessionID, purpose)).Err(); err != nil {
		return fmt.Errorf("delete otp challenge: %w", err)
	}
	return nil
}
