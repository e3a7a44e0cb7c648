package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter replica el fixed window de RedisLimiter sobre go-cache. El TTL
// del cache expira la ventana solo; el mutex serializa el read-modify-write
// del contador.
type MemoryLimiter struct {
	mu     sync.Mutex
	c      *gocache.Cache
	Max    int64
	Window time.Duration
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, window),
		Max:    int64(max),
		Window: window,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	cacheKey := fmt.Sprintf("%s:%d", key, winStart.Unix())
	windowEnd := winStart.Add(l.Window)

	l.mu.Lock()
	var hits int64 = 1
	if v, ok := l.c.Get(cacheKey); ok {
		hits = v.(int64) + 1
	}
	l.c.Set(cacheKey, hits, time.Until(windowEnd))
	l.mu.Unlock()

	remaining := l.Max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     hits <= l.Max,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   time.Until(windowEnd),
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(windowEnd)
	}
	return res, nil
}
