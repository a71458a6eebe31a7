package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend holds the cached property list with a TTL.
type Backend interface {
	Get(ctx context.Context) ([]string, bool, error)
	Set(ctx context.Context, names []string, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// RedisBackend stores the list as a JSON array under one key.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = "contact-import:crm:contact-properties"
	}
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Get(ctx context.Context) ([]string, bool, error) {
	val, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read properties cache: %w", err)
	}
	var names []string
	if err := json.Unmarshal(val, &names); err != nil {
		return nil, false, fmt.Errorf("decode properties cache: %w", err)
	}
	return names, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, names []string, ttl time.Duration) error {
	payload, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("write properties cache: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete properties cache: %w", err)
	}
	return nil
}

type MemoryBackend struct {
	mu        sync.Mutex
	names     []string
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{now: now}
}

func (b *MemoryBackend) Get(ctx context.Context) ([]string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.names == nil || !b.now().Before(b.expiresAt) {
		return nil, false, nil
	}
	return append([]string(nil), b.names...), true, nil
}

func (b *MemoryBackend) Set(ctx context.Context, names []string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append([]string{}, names...)
	b.expiresAt = b.now().Add(ttl)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = nil
	return nil
}
