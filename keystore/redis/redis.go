// Package redis provides a Redis-backed implementation of keystore.Store so
// that a fleet of verifiers can share a single fetched key-set document.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-bearer-go/keystore"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. Required.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "mcp:keystore:"
	KeyPrefix string
}

// EnvConfig is the envdecode-populated connection configuration used by
// NewFromEnv.
type EnvConfig struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: KEYSTORE_KEY_PREFIX
	KeyPrefix string `env:"KEYSTORE_KEY_PREFIX,default=mcp:keystore:"`
}

// Store implements keystore.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedItem is the envelope persisted in Redis. ExpiresAt is kept alongside
// the native key TTL so expiry is honoured even if the TTL was lost (e.g. a
// PERSIST by an operator).
type storedItem struct {
	Data      []byte     `json:"data"`
	StoredAt  time.Time  `json:"stored_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "mcp:keystore:"
	}
	return &Store{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate EnvConfig and pings
// the server before returning.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg EnvConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("keystore/redis: decode env: %w", err)
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: cl, KeyPrefix: cfg.KeyPrefix})
}

// Get retrieves the item stored under key.
func (s *Store) Get(ctx context.Context, key string) (*keystore.Item, error) {
	if key == "" {
		return nil, keystore.ErrEmptyKey
	}
	redisKey := s.keyPrefix + key

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	out := &keystore.Item{Data: item.Data, StoredAt: item.StoredAt, ExpiresAt: item.ExpiresAt}
	if out.IsExpired(time.Now()) {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return out, nil
}

// Set stores data under key.
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return keystore.ErrEmptyKey
	}
	redisKey := s.keyPrefix + key

	now := time.Now()
	item := storedItem{Data: data, StoredAt: now}
	var redisTTL time.Duration
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		item.ExpiresAt = &expiresAt
		redisTTL = ttl
	}

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, b, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return keystore.ErrEmptyKey
	}
	redisKey := s.keyPrefix + key
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Compile-time interface check
var _ keystore.Store = (*Store)(nil)
