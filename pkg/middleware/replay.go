package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ReplayKeyPrefix namespaces consumed bypass envelope ids.
const ReplayKeyPrefix = "signing:none_repeat:"

// ReplayGuard records envelope ids so each can be used once.
type ReplayGuard interface {
	// Consume returns true the first time id is seen within ttl.
	Consume(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard consumes ids with SET NX, shared by every gateway instance.
type RedisReplayGuard struct {
	client redis.UniversalClient
}

// NewRedisReplayGuard creates a guard on client.
func NewRedisReplayGuard(client redis.UniversalClient) *RedisReplayGuard {
	return &RedisReplayGuard{client: client}
}

// Consume implements ReplayGuard.
func (g *RedisReplayGuard) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := g.client.SetNX(ctx, ReplayKeyPrefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}
