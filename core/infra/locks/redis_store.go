package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 5 * time.Minute
	keyPrefix  = "extstore:lock:"
)

type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire takes the lock for owner if it is free or already owned by owner.
func (s *RedisStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error) {
	resource, owner, err := s.check(resource, owner)
	if err != nil {
		return nil, false, err
	}
	ttl = normalizeTTL(ttl)
	res, err := s.client.Eval(ctx, acquireScript, []string{lockKey(resource)},
		owner,
		ttl.Milliseconds(),
		time.Now().UTC().Unix(),
	).Result()
	if err != nil {
		return nil, false, err
	}
	payload, _ := res.(string)
	if payload == "" {
		return nil, false, nil
	}
	lock, err := parseLock(payload, resource)
	if err != nil {
		return nil, false, err
	}
	return lock, true, nil
}

// Release drops the lock if owner holds it. It reports whether the lock was
// released.
func (s *RedisStore) Release(ctx context.Context, resource, owner string) (bool, error) {
	resource, owner, err := s.check(resource, owner)
	if err != nil {
		return false, err
	}
	n, err := s.client.Eval(ctx, releaseScript, []string{lockKey(resource)}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Renew extends the lock TTL if owner still holds it.
func (s *RedisStore) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error) {
	resource, owner, err := s.check(resource, owner)
	if err != nil {
		return nil, false, err
	}
	ttl = normalizeTTL(ttl)
	res, err := s.client.Eval(ctx, renewScript, []string{lockKey(resource)},
		owner,
		ttl.Milliseconds(),
		time.Now().UTC().Unix(),
	).Result()
	if err != nil {
		return nil, false, err
	}
	payload, _ := res.(string)
	if payload == "" {
		return nil, false, nil
	}
	lock, err := parseLock(payload, resource)
	if err != nil {
		return nil, false, err
	}
	return lock, true, nil
}

// Get returns the current holder, or nil if the lock is free.
func (s *RedisStore) Get(ctx context.Context, resource string) (*Lock, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("resource required")
	}
	payload, err := s.client.Get(ctx, lockKey(resource)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseLock(payload, resource)
}

func (s *RedisStore) check(resource, owner string) (string, string, error) {
	if s == nil || s.client == nil {
		return "", "", fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	owner = strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return "", "", fmt.Errorf("resource and owner required")
	}
	return resource, owner, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

type lockPayload struct {
	Owner      string `json:"owner"`
	AcquiredAt int64  `json:"acquired_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

func parseLock(payload, resource string) (*Lock, error) {
	var decoded lockPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}
	lock := &Lock{Resource: resource, Owner: decoded.Owner}
	if decoded.AcquiredAt > 0 {
		lock.AcquiredAt = time.Unix(decoded.AcquiredAt, 0).UTC()
	}
	if decoded.ExpiresAt > 0 {
		lock.ExpiresAt = time.Unix(decoded.ExpiresAt, 0).UTC()
	}
	return lock, nil
}

func lockKey(resource string) string {
	return keyPrefix + resource
}

const acquireScript = `
local key = KEYS[1]
local owner = ARGV[1]
local ttl = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local payload = redis.call("GET", key)
local lock
if payload then
  lock = cjson.decode(payload)
  if lock["owner"] ~= owner then
    return ""
  end
else
  lock = {owner = owner, acquired_at = now}
end
lock["expires_at"] = now + math.floor(ttl/1000)
local encoded = cjson.encode(lock)
redis.call("SET", key, encoded, "PX", ttl)
return encoded
`

const releaseScript = `
local key = KEYS[1]
local owner = ARGV[1]
local payload = redis.call("GET", key)
if not payload then
  return 0
end
local lock = cjson.decode(payload)
if lock["owner"] ~= owner then
  return 0
end
redis.call("DEL", key)
return 1
`

const renewScript = `
local key = KEYS[1]
local owner = ARGV[1]
local ttl = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local payload = redis.call("GET", key)
if not payload then
  return ""
end
local lock = cjson.decode(payload)
if lock["owner"] ~= owner then
  return ""
end
lock["expires_at"] = now + math.floor(ttl/1000)
local encoded = cjson.encode(lock)
redis.call("SET", key, encoded, "PX", ttl)
return encoded
`
