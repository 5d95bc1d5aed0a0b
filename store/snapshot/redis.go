package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/store"
	"github.com/redis/go-redis/v9"
)

// Redis keeps the snapshot as a single gob value under one key.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects and pings before returning.
func NewRedis(ctx context.Context, cfg config.RedisConfig, key string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	log.Printf("[SNAPSHOT] redis options -> %s", client.String())

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return NewRedisWithClient(client, key), nil
}

func NewRedisWithClient(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Load(ctx context.Context) (*store.Snapshot, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

func (r *Redis) Save(ctx context.Context, snap *store.Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, b, 0).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
