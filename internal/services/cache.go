package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// AudioCache stores synthesized audio by content key. Implementations must
// treat every failure as a miss.
type AudioCache interface {
	GetAudio(ctx context.Context, key string) ([]byte, bool)
	PutAudio(ctx context.Context, key string, audio []byte)
}

// ImageCache stores fetched pictures as data URIs by source URL.
type ImageCache interface {
	GetImage(ctx context.Context, url string) (string, bool)
	PutImage(ctx context.Context, url, dataURI string)
}

// RedisCache backs both caches with plain string keys and a TTL.
type RedisCache struct {
	redis    *redis.Client
	audioTTL time.Duration
	imageTTL time.Duration
}

func NewRedisCache(client *redis.Client, audioTTL, imageTTL time.Duration) *RedisCache {
	return &RedisCache{redis: client, audioTTL: audioTTL, imageTTL: imageTTL}
}

func (c *RedisCache) GetAudio(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("audio cache: get %s failed: %v", key, err)
		}
		return nil, false
	}
	return val, true
}

func (c *RedisCache) PutAudio(ctx context.Context, key string, audio []byte) {
	if err := c.redis.Set(ctx, key, audio, c.audioTTL).Err(); err != nil {
		log.Printf("audio cache: set %s failed: %v", key, err)
	}
}

func (c *RedisCache) GetImage(ctx context.Context, url string) (string, bool) {
	val, err := c.redis.Get(ctx, imageCacheKey(url)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("image cache: get %s failed: %v", url, err)
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) PutImage(ctx context.Context, url, dataURI string) {
	if err := c.redis.Set(ctx, imageCacheKey(url), dataURI, c.imageTTL).Err(); err != nil {
		log.Printf("image cache: set %s failed: %v", url, err)
	}
}

func imageCacheKey(url string) string {
	return "image:" + url
}
