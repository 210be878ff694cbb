package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBackend shares limiter and dedup state across API instances.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client), nil
}

func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "lumen:throttle:"}
}

func (b *RedisBackend) Limiter(name string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: b.client,
		prefix: b.prefix + name + ":",
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (b *RedisBackend) Deduper(name string, window time.Duration) *RedisDeduper {
	return &RedisDeduper{
		client: b.client,
		prefix: b.prefix + name + ":",
		window: window,
	}
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// slidingWindow trims the sorted set to the window, then either records the
// hit or reports the oldest score so the caller can compute Retry-After.
// Scores are unix milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisLimiter is a sliding-window limiter on a sorted set per key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	nowMs := l.now().UnixMilli()
	windowMs := l.window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	raw, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key}, nowMs, windowMs, l.limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, raw)
	}

	if raw[0] == 1 {
		return Decision{Allowed: true, Remaining: l.limit - int(raw[1])}, nil
	}
	retry := time.Duration(raw[2]+windowMs-nowMs) * time.Millisecond
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// RedisDeduper records fingerprints with SET NX PX.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func (d *RedisDeduper) Seen(ctx context.Context, fingerprint string) (bool, error) {
	created, err := d.client.SetNX(ctx, d.prefix+fingerprint, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", fingerprint, err)
	}
	return !created, nil
}
