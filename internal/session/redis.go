package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "session:apikey:"

// RedisBinder backs the session binding with Redis so multiple instances
// share one view of live sessions.
type RedisBinder struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBinder connects to Redis and verifies the connection.
func NewRedisBinder(redisURL string, ttl time.Duration) (*RedisBinder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBinder{client: client, ttl: ttl}, nil
}

// Bind stores the binding with a fresh TTL.
func (b *RedisBinder) Bind(ctx context.Context, sessionID, apiKey string) error {
	return b.client.Set(ctx, redisKeyPrefix+sessionID, apiKey, b.ttl).Err()
}

// Lookup returns the bound API key, if any.
func (b *RedisBinder) Lookup(ctx context.Context, sessionID string) (string, bool) {
	val, err := b.client.Get(ctx, redisKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return "", false
	}
	return val, true
}

// Close releases the Redis connection.
func (b *RedisBinder) Close() error {
	return b.client.Close()
}
