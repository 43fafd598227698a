package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "alumni:rate_limit"

// KEYS[1] counter, ARGV[1] window in ms. Returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisRateLimiter counts hits per scope and subject in fixed Redis windows so the
// limit holds across every API replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter whose keys live under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// ConsumeRateLimit counts one hit for scope/subject and reports the window's count
// and the seconds until it resets. A nil limiter or non-positive limit is a no-op.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(scope, subject)}, windowMs).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}
	return parseWindowReply(raw, windowMs)
}

// parseWindowReply turns the script's {count, pttl} reply into a count and a
// Retry-After value in whole seconds, never below one.
func parseWindowReply(raw interface{}, windowMs int64) (int, int, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit count: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(count), 0, fmt.Errorf("unexpected rate limit ttl: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int((ttlMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(count), retryAfter, nil
}

func (r *RedisRateLimiter) key(scope, subject string) string {
	return r.prefix + ":" + scope + ":" + subject
}
