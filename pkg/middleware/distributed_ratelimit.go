package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrStoreUnavailable wraps every failure to reach the permit store or run its script.
var ErrStoreUnavailable = errors.New("permit store unavailable")

// PermitStore grants or denies a single permit for key within a sliding window.
type PermitStore interface {
	Acquire(ctx context.Context, key string, window time.Duration, maxPermits int64) (bool, error)
}

// slidingWindowScript runs as one atomic operation on the Redis server.
//
//	KEYS[1]  window key
//	ARGV[1]  window length in seconds
//	ARGV[2]  maximum permits per window
//	ARGV[3]  unique suffix for the new entry
//
// Time comes from the server so replicas with skewed clocks share one timeline. Scores
// are microseconds since the epoch, built as strings because Lua numbers lose digits
// when Redis formats them.
const slidingWindowScript = `
local t = redis.call('TIME')
local micros = string.format('%06d', tonumber(t[2]))
local now = t[1] .. micros
local trim = (tonumber(t[1]) - tonumber(ARGV[1])) .. micros
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, trim)
local request_count = redis.call('ZCARD', KEYS[1])
if request_count < tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], now, now .. '-' .. ARGV[3])
  redis.call('EXPIRE', KEYS[1], ARGV[1])
  return 1
end
return 0
`

// RedisPermitStore acquires permits with a server-side Lua script. The counters live
// only in Redis; the store holds no in-process state besides the script handle.
type RedisPermitStore struct {
	client redis.UniversalClient
	script *redis.Script
}

// NewRedisPermitStore creates a store on client.
func NewRedisPermitStore(client redis.UniversalClient) *RedisPermitStore {
	return &RedisPermitStore{
		client: client,
		script: redis.NewScript(slidingWindowScript),
	}
}

// Load registers the script with the server so the first request can use EVALSHA.
func (s *RedisPermitStore) Load(ctx context.Context) error {
	if err := s.script.Load(ctx, s.client).Err(); err != nil {
		return fmt.Errorf("%w: failed to load sliding window script: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Acquire implements PermitStore. If the server lost the script it is sent again.
func (s *RedisPermitStore) Acquire(ctx context.Context, key string, window time.Duration, maxPermits int64) (bool, error) {
	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		return false, fmt.Errorf("window must be at least one second, got %s", window)
	}

	granted, err := s.script.Run(ctx, s.client, []string{key}, windowSeconds, maxPermits, uuid.NewString()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return granted == 1, nil
}

// CountKeys returns the number of live keys matching pattern. It uses SCAN so a large
// keyspace never blocks the server.
func (s *RedisPermitStore) CountKeys(ctx context.Context, pattern string) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}
