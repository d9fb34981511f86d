package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript atomically consumes one unit of quota for a fixed window.
// KEYS[1] = counter key
// ARGV[1] = window length in milliseconds
// Returns: [current count, remaining window in milliseconds]
//
// INCR and PEXPIRE run inside one script so concurrent callers cannot
// observe a counter without an expiry or lose an increment.
const incrScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// Redis is a fixed-window limiter backed by a shared Redis instance, for
// deployments running more than one keygate replica. Counter keys expire
// with their window, so there is nothing to sweep.
type Redis struct {
	client *redis.Client
	limits Limits
	clock  func() time.Time
	script *redis.Script
}

// NewRedis creates a Redis-backed limiter with the given per-route limits.
func NewRedis(client *redis.Client, limits Limits) *Redis {
	return &Redis{
		client: client,
		limits: limits,
		clock:  time.Now,
		script: redis.NewScript(incrScript),
	}
}

// Allow consumes one unit of quota for (route, subject). An unreachable
// Redis surfaces as an error; callers treat that as an infrastructure
// failure, never as a rate-limit denial.
func (r *Redis) Allow(ctx context.Context, route, subject string) (Result, error) {
	lim := r.limits.limitFor(route)
	key := "ratelimit:" + route + ":" + subject

	raw, err := r.script.Run(ctx, r.client, []string{key}, lim.Window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit script: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit script: unexpected reply %v", raw)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)

	res := Result{
		Limit: lim.Requests,
		Reset: r.clock().Add(time.Duration(ttlMs) * time.Millisecond),
	}
	if int(count) > lim.Requests {
		res.Allowed = false
		res.Remaining = 0
		return res, nil
	}
	res.Allowed = true
	res.Remaining = lim.Requests - int(count)
	return res, nil
}
