package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RateWindow is one rolling window checked by AllowRateWindows.
type RateWindow struct {
	Span  time.Duration
	Limit int
}

var rateWindowScript = redis.NewScript(`
-- KEYS[i]   = sorted-set key for window i
-- ARGV[1]   = now_ms
-- ARGV[2]   = member (unique per attempt)
-- ARGV[2i+1] = span_ms for window i
-- ARGV[2i+2] = limit for window i
--
-- All windows are checked before any of them is consumed, so a request
-- rejected by one window never counts against another.
--
-- Returns:
--  1 if the attempt is allowed and recorded in every window
--  0 if any window is at its limit
local now = tonumber(ARGV[1])
local member = ARGV[2]

for i = 1, #KEYS do
  local span = tonumber(ARGV[2*i + 1])
  local limit = tonumber(ARGV[2*i + 2])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], 0, now - span)
  if redis.call('ZCARD', KEYS[i]) >= limit then
    return 0
  end
end

for i = 1, #KEYS do
  local span = tonumber(ARGV[2*i + 1])
  redis.call('ZADD', KEYS[i], now, member)
  redis.call('PEXPIRE', KEYS[i], span)
end
return 1
`)

// AllowRateWindows atomically checks and consumes a set of rolling rate windows
// for a key (e.g., permission requests per contact+destination per day and per week).
//
// Safety properties:
// - All windows are evaluated in one Lua invocation; concurrent callers cannot
//   interleave a read-then-write and bypass a limit.
// - A rejected attempt consumes no window.
// - TTLs bound memory; an idle key disappears after its longest window elapses.
func AllowRateWindows(ctx context.Context, rdb *redis.Client, key string, windows []RateWindow) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	if len(windows) == 0 {
		return false, fmt.Errorf("at least one window is required")
	}

	keys := make([]string, 0, len(windows))
	argv := make([]any, 0, 2+2*len(windows))
	argv = append(argv, time.Now().UnixMilli(), uuid.NewString())
	for i, w := range windows {
		if w.Span <= 0 || w.Limit <= 0 {
			return false, fmt.Errorf("window span and limit must be > 0")
		}
		keys = append(keys, fmt.Sprintf("%s:w%d", key, i))
		argv = append(argv, w.Span.Milliseconds(), w.Limit)
	}

	res, err := rateWindowScript.Run(ctx, rdb, keys, argv...).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
