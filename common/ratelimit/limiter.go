package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger matches the subset of common/logger used here.
type Logger interface {
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Result reports one admission decision. RetryAfterSeconds is zero
// when the request was allowed.
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter admits requests against fixed windows counted in Redis.
// Every gateway replica runs against the same counters, so limits
// hold across the fleet.
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	log    Logger
}

// New compiles the admission script against the given client.
func New(redisClient *redis.Client, log Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		log:    log,
	}
}

// CheckGlobalLimit admits against the service-wide window shared by
// every caller.
func (l *Limiter) CheckGlobalLimit(ctx context.Context, limit int64) (*Result, error) {
	return l.check(ctx, "rate_limit:global", limit, 60)
}

// CheckUserLimit admits against one user's window.
func (l *Limiter) CheckUserLimit(ctx context.Context, userID string, limit int64, windowSec int) (*Result, error) {
	return l.check(ctx, "rate_limit:user:"+userID, limit, windowSec)
}

// CheckTieredLimit admits a submission against the caller's window for
// the workflow's cost tier. Tiers count separately, so a burst of
// heavy runs cannot starve the same user's simple ones.
func (l *Limiter) CheckTieredLimit(ctx context.Context, userID string, tier WorkflowTier) (*Result, error) {
	key := fmt.Sprintf("rate_limit:user:%s:tier:%s", userID, tier)
	return l.check(ctx, key, LimitForTier(tier), WindowForTier(tier))
}

// check runs the admission script. The script replies with four
// integers: allowed, current count, limit, and seconds until reset.
func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		l.log.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 4 {
		return nil, fmt.Errorf("rate limit script returned %T, want 4 integers", raw)
	}
	var nums [4]int64
	for i, v := range reply {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("rate limit script field %d is %T, want integer", i, v)
		}
		nums[i] = n
	}

	result := &Result{
		Allowed:           nums[0] == 1,
		CurrentCount:      nums[1],
		Limit:             nums[2],
		RetryAfterSeconds: nums[3],
	}

	if !result.Allowed {
		l.log.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds)
	}

	return result, nil
}

// CurrentCount reads a window's counter without incrementing it.
func (l *Limiter) CurrentCount(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset clears a window so the next request starts a fresh one.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
