package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

// MultiLimiter aplica límites distintos por ruta sobre el mismo backend.
type MultiLimiter interface {
	AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// MultiRedisLimiter mantiene el algoritmo fixed-window del RedisLimiter
// con un limiter cacheado por configuración.
type MultiRedisLimiter struct {
	client *rdb.Client
	prefix string
	mu     sync.RWMutex
	// un limiter por limit+window
	limiters map[string]*RedisLimiter
}

func NewMultiRedisLimiter(client *rdb.Client, prefix string) *MultiRedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MultiRedisLimiter{
		client:   client,
		prefix:   prefix,
		limiters: make(map[string]*RedisLimiter),
	}
}

func (m *MultiRedisLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	configKey := fmt.Sprintf("%d:%s", limit, window.String())

	m.mu.RLock()
	limiter, exists := m.limiters[configKey]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// double-check
		if limiter, exists = m.limiters[configKey]; !exists {
			limiter = NewRedisLimiter(m.client, m.prefix, limit, window)
			m.limiters[configKey] = limiter
		}
		m.mu.Unlock()
	}
	return limiter.Allow(ctx, key)
}

// MultiMemoryLimiter es la variante en memoria; todas las reglas comparten un go-cache.
type MultiMemoryLimiter struct {
	c        *gocache.Cache
	prefix   string
	now      func() time.Time
	mu       sync.Mutex
	limiters map[string]*MemoryLimiter
}

func NewMultiMemoryLimiter(prefix string) *MultiMemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MultiMemoryLimiter{
		c:        gocache.New(time.Minute, 5*time.Minute),
		prefix:   prefix,
		now:      time.Now,
		limiters: make(map[string]*MemoryLimiter),
	}
}

// WithClock reemplaza el reloj (tests).
func (m *MultiMemoryLimiter) WithClock(now func() time.Time) *MultiMemoryLimiter {
	m.now = now
	return m
}

func (m *MultiMemoryLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	configKey := fmt.Sprintf("%d:%s", limit, window.String())

	m.mu.Lock()
	limiter, ok := m.limiters[configKey]
	if !ok {
		// el prefijo incluye la config para que dos reglas no compartan contador
		limiter = newMemoryLimiter(m.c, m.prefix+configKey+":", limit, window).WithClock(m.now)
		m.limiters[configKey] = limiter
	}
	m.mu.Unlock()
	return limiter.Allow(ctx, key)
}

// NewMulti elige Redis si hay cliente, memoria si no.
func NewMulti(client *rdb.Client, prefix string) MultiLimiter {
	if client != nil {
		return NewMultiRedisLimiter(client, prefix)
	}
	return NewMultiMemoryLimiter(prefix)
}
