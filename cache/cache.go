// Package cache stores computed ledgers keyed by the fingerprint of the leg
// snapshot they were built from. Redis is used when configured; otherwise an
// in-process map with TTLs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

// Cache is a byte-oriented key/value cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// =============================================================================
// REDIS
// =============================================================================

// keyPrefix namespaces keys so Clear only touches this service's entries.
const keyPrefix = "residency:"

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects and pings. The caller decides whether a failure is
// fatal or a reason to fall back to memory.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, generic.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

// Clear removes every key under the service prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// =============================================================================
// IN-MEMORY
// =============================================================================

type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

func (m *InMemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, generic.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, generic.ErrCacheMiss
	}
	return entry.value, nil
}

func (m *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *InMemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *InMemoryCache) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = make(map[string]cacheEntry)
	m.mu.Unlock()
	return nil
}

// =============================================================================
// LEDGER HELPERS
// =============================================================================

// LedgerKey is the cache key for the ledger of a leg snapshot.
func LedgerKey(legs []residency.Leg) string {
	return "ledger:" + residency.Fingerprint(legs)
}

// GetLedger loads a cached ledger. Returns generic.ErrCacheMiss when absent.
func GetLedger(ctx context.Context, c Cache, key string) (residency.Ledger, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var ledger residency.Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("corrupt cached ledger: %w", err)
	}
	return ledger, nil
}

// SetLedger stores a ledger.
func SetLedger(ctx context.Context, c Cache, key string, ledger residency.Ledger, ttl time.Duration) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
