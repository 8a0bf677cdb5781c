package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pulse/internal/models"
)

// slidingWindowScript prunes, counts and conditionally appends in one atomic
// step. Scores are millisecond timestamps. Returns {allowed, count, oldest}
// where count is the number of entries inside the window before this request.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
local oldest = now
if count > 0 then
	local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	oldest = tonumber(first[2])
end

if count >= limit then
	return {0, count, oldest}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count, oldest}
`)

// RedisLimiter is a sliding-window limiter whose windows live in Redis sorted
// sets, so several gateway replicas share one quota per identifier. Keys
// expire with the window, which takes the place of the in-process janitor.
type RedisLimiter struct {
	client redis.Scripter
	quota  Quota
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter. The client is owned by the
// caller and is not closed by Close. Only WithKeyQuota and WithClock apply.
func NewRedisLimiter(client redis.Scripter, prefix string, window time.Duration, max int, opts ...Option) *RedisLimiter {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &RedisLimiter{
		client: client,
		quota:  newQuota(window, max, o.keyMax),
		prefix: prefix,
		now:    o.clock,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, id Identifier) (bool, Info, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	limit := l.quota.LimitFor(id)
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.key(id)},
		nowMs, l.quota.Window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, Info{}, fmt.Errorf("redis sliding window for %s: %w", id.Kind, err)
	}
	if len(res) != 3 {
		return false, Info{}, fmt.Errorf("redis sliding window: unexpected reply of %d elements", len(res))
	}

	oldest := time.UnixMilli(res[2])
	allowed, info := l.quota.decide(id, now, oldest, int(res[1]))
	return allowed, info, nil
}

// key names the sorted set for id. API keys appear only as their SHA-256
// hash so key names never expose credentials.
func (l *RedisLimiter) key(id Identifier) string {
	if id.Kind == KindKey {
		return l.prefix + string(KindKey) + ":" + models.HashAPIKey(id.Value)
	}
	return l.prefix + id.String()
}

func (l *RedisLimiter) Quota() Quota {
	return l.quota
}

// Close is a no-op; the Redis client outlives the limiter.
func (l *RedisLimiter) Close() error {
	return nil
}
