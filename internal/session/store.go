// File: internal/session/store.go
// Package session keeps browser cookies per origin so a fresh browser can
// pick up where an earlier one left off.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store persists cookie sets keyed by origin. Get returns nil, nil when
// nothing is stored.
type Store interface {
	Get(ctx context.Context, origin string) ([]schemas.Cookie, error)
	Put(ctx context.Context, origin string, cookies []schemas.Cookie) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jars map[string][]schemas.Cookie
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jars: make(map[string][]schemas.Cookie)}
}

func (s *MemoryStore) Get(_ context.Context, origin string) ([]schemas.Cookie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jar, ok := s.jars[origin]
	if !ok {
		return nil, nil
	}
	return append([]schemas.Cookie(nil), jar...), nil
}

func (s *MemoryStore) Put(_ context.Context, origin string, cookies []schemas.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jars[origin] = append([]schemas.Cookie(nil), cookies...)
	return nil
}

// redisCmdable is the slice of the go-redis client the store needs.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps cookie sets in Redis as JSON under prefix+origin, so
// several worker processes share one login.
type RedisStore struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to the configured server and pings it.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisStore(client, cfg), client, nil
}

func newRedisStore(client redisCmdable, cfg config.RedisConfig) *RedisStore {
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.CookieTTL}
}

func (s *RedisStore) key(origin string) string { return s.prefix + origin }

func (s *RedisStore) Get(ctx context.Context, origin string) ([]schemas.Cookie, error) {
	raw, err := s.client.Get(ctx, s.key(origin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cookies for %s: %w", origin, err)
	}
	var cookies []schemas.Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookies for %s: %w", origin, err)
	}
	return cookies, nil
}

func (s *RedisStore) Put(ctx context.Context, origin string, cookies []schemas.Cookie) error {
	raw, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode cookies for %s: %w", origin, err)
	}
	if err := s.client.Set(ctx, s.key(origin), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cookies for %s: %w", origin, err)
	}
	return nil
}
