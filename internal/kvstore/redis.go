// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/factory"
)

func init() {
	factory.Register(Role, "redis", func(cfg factory.Config) (any, error) {
		var c RedisConfig
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		return NewRedis(c)
	})
}

// RedisConfig carries the connection parameters for the redis backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every stored key so several brokers can share
	// one redis database.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Redis is the redis-backed storage backend. Values are YAML-serialized on
// the wire. The go-redis client is safe for concurrent use, so no locking
// is needed here.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis opens a client for the configured address. The connection is
// established lazily by go-redis; a bad address surfaces on first use.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis storage backend requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) storageKey(key string) string {
	return r.prefix + key
}

// HasKey reports whether key exists in redis.
func (r *Redis) HasKey(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.storageKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// QueryItem fetches and decodes the value stored under key.
func (r *Redis) QueryItem(ctx context.Context, key string) (any, error) {
	raw, err := r.client.Get(ctx, r.storageKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, broker.NewKeyNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return decodeValue(raw)
}

// SetItem encodes and stores value under key, without expiry.
func (r *Redis) SetItem(ctx context.Context, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.storageKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// DeleteItem removes key; absent keys are a no-op.
func (r *Redis) DeleteItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// AllKeys scans the prefixed key space and returns the logical keys.
func (r *Redis) AllKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close shuts down the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
