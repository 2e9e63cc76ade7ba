package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 10 * time.Second

// RedisClients backs the audio/image cache and the image prefetch queue.
// Prefetch workers block in BLPOP on Queue, so cache lookups get their own
// connection pool.
type RedisClients struct {
	Queue *redis.Client
	Cache *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	queue, err := dial(ctx, opt, "picturetalk-prefetch")
	if err != nil {
		return nil, err
	}
	cache, err := dial(ctx, opt, "picturetalk-cache")
	if err != nil {
		queue.Close()
		return nil, err
	}
	return &RedisClients{Queue: queue, Cache: cache}, nil
}

// dial opens a client on a copy of base, tagged with name in CLIENT LIST.
func dial(ctx context.Context, base *redis.Options, name string) (*redis.Client, error) {
	opt := *base
	opt.ClientName = name

	client := redis.NewClient(&opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis (%s): %w", name, err)
	}
	return client, nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.Cache.Close()
}
