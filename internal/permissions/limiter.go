package permissions

import (
	"context"
	"sync"
	"time"

	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Window is one rolling request-rate window.
type Window struct {
	Span  time.Duration
	Limit int
}

// RateLimiter atomically checks and consumes all windows for a key.
// A rejected attempt must not consume any window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, windows []Window) (bool, error)
}

// RedisLimiter enforces windows via a single Lua script, so concurrent
// requests for the same key cannot bypass a cap.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter { return &RedisLimiter{rdb: rdb} }

func (l *RedisLimiter) Allow(ctx context.Context, key string, windows []Window) (bool, error) {
	ws := make([]utils.RateWindow, len(windows))
	for i, w := range windows {
		ws[i] = utils.RateWindow{Span: w.Span, Limit: w.Limit}
	}
	return utils.AllowRateWindows(ctx, l.rdb, key, ws)
}

// MemoryLimiter is a mutex-guarded sliding-window limiter for tests.
type MemoryLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	clock func() time.Time
}

func NewMemoryLimiter(clock func() time.Time) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{hits: make(map[string][]time.Time), clock: clock}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, windows []Window) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	var longest time.Duration
	for _, w := range windows {
		if w.Span > longest {
			longest = w.Span
		}
	}

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if now.Sub(t) < longest {
			kept = append(kept, t)
		}
	}
	l.hits[key] = kept

	for _, w := range windows {
		n := 0
		for _, t := range kept {
			if now.Sub(t) < w.Span {
				n++
			}
		}
		if n >= w.Limit {
			return false, nil
		}
	}
	l.hits[key] = append(l.hits[key], now)
	return true, nil
}
