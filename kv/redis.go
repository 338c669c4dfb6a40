package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisKVStore stores values as Redis strings under a common key prefix.
type RedisKVStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

type RedisOption func(*RedisKVStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisKVStore) {
		s.prefix = prefix
	}
}

// WithTTL sets the expiration applied on Put. Zero keeps keys forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisKVStore) {
		s.ttl = ttl
	}
}

// NewRedisKVStore connects to the given address. Close releases the client.
func NewRedisKVStore(address, password string, db int, opts ...RedisOption) *RedisKVStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	store := NewRedisKVStoreFromClient(client, opts...)
	store.owned = true
	return store
}

// NewRedisKVStoreFromClient wraps an existing client. Close leaves the
// client open.
func NewRedisKVStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisKVStore {
	store := &RedisKVStore{
		client: client,
		prefix: "goflow:kv:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisKVStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisKVStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisKVStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
