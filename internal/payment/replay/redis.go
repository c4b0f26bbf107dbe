package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client used by RedisGuard.
type redisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisGuard shares remembered keys across server instances.
type RedisGuard struct {
	client redisClient
	prefix string
}

// NewRedisGuard connects to redisURL (redis://host:port/db) and pings it.
func NewRedisGuard(ctx context.Context, redisURL string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("replay: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("replay: redis ping: %w", err)
	}
	return &RedisGuard{client: client, prefix: "elearn:"}, nil
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember stores key with SET NX EX. An existing key keeps its original expiry.
func (g *RedisGuard) Remember(ctx context.Context, key string, ttl time.Duration) error {
	return g.client.SetNX(ctx, g.prefix+key, "1", ttl).Err()
}

// Close closes the underlying client.
func (g *RedisGuard) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
