package rate

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es el mismo fixed window sobre go-cache. Sin Redis cada réplica
// cuenta por separado.
type MemoryLimiter struct {
	c      *gocache.Cache
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(prefix string, max int, window time.Duration) *MemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return newMemoryLimiter(gocache.New(window, 2*window), prefix, max, window)
}

func newMemoryLimiter(c *gocache.Cache, prefix string, max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{c: c, prefix: prefix, max: int64(max), window: window, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	k := windowKey(l.prefix, key, winStart)
	ttl := winStart.Add(l.window).Sub(now)

	// Add falla si ya existe: en ese caso se incrementa
	if err := l.c.Add(k, int64(1), ttl); err == nil {
		return result(1, l.max, ttl, l.window), nil
	}
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		// expiró entre Add e Increment: arranca ventana nueva
		l.c.Set(k, int64(1), ttl)
		hits = 1
	}
	return result(hits, l.max, ttl, l.window), nil
}
