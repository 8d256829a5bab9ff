package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed-window counter: the first hit in a window sets the expiry.
var fixedWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

// RateDecision is the outcome of a rate limit check.
type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RedisRateLimiter limits mutating calls per user across all API replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter storing counters under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "scg:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: p}
}

// Allow records one hit for subject in scope and reports whether it is within limit.
// A nil limiter, a non-positive limit or an empty subject always allows.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateDecision, error) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if r == nil || r.client == nil || limit <= 0 || window <= 0 || scope == "" || subject == "" {
		return RateDecision{Allowed: true}, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.prefix + ":" + scope + ":" + subject
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return RateDecision{}, err
	}

	hits, ttlMs, err := parseWindowReply(raw)
	if err != nil {
		return RateDecision{}, err
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retrySeconds := int64(math.Ceil(float64(ttlMs) / 1000.0))
	if retrySeconds < 1 {
		retrySeconds = 1
	}

	return RateDecision{
		Allowed:    hits <= int64(limit),
		Count:      int(hits),
		RetryAfter: time.Duration(retrySeconds) * time.Second,
	}, nil
}

func parseWindowReply(raw interface{}) (hits int64, ttlMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limiter reply: %T", raw)
	}
	hits, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter count type: %T", values[0])
	}
	ttlMs, ok = values[1].(int64)
	if !ok {
		return hits, 0, fmt.Errorf("unexpected rate limiter ttl type: %T", values[1])
	}
	return hits, ttlMs, nil
}
