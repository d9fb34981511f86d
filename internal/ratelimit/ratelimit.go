// Package ratelimit throttles requests per (route, subject) with a fixed
// window. Each protected route carries its own limit; subjects are
// credential prefixes for authenticated traffic and caller IPs otherwise.
//
// Two backends implement the same contract: an in-process sharded counter
// map for single-instance deployments, and a Redis-backed counter for
// multi-instance deployments.
package ratelimit

import (
	"context"
	"time"
)

// Route names used as limiter keys. Each route gets an independent counter
// per subject.
const (
	RouteVerify = "mcp_verify"
	RouteKeys   = "api_keys"
)

// Limit bounds one route: at most Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limits maps route names to their configured limits. Routes without an
// entry fall back to Default.
type Limits struct {
	Routes  map[string]Limit
	Default Limit
}

// DefaultLimits mirrors the production configuration: 60/min on the
// verification route, 10/min on key management.
func DefaultLimits() Limits {
	return Limits{
		Routes: map[string]Limit{
			RouteVerify: {Requests: 60, Window: time.Minute},
			RouteKeys:   {Requests: 10, Window: time.Minute},
		},
		Default: Limit{Requests: 60, Window: time.Minute},
	}
}

func (l Limits) limitFor(route string) Limit {
	if lim, ok := l.Routes[route]; ok && lim.Requests > 0 {
		return lim
	}
	return l.Default
}

// Result is the outcome of one Allow call. Limit, Remaining, and Reset are
// always populated so callers can stamp rate-limit headers on every
// response, allowed or not.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns the whole seconds until the window resets, rounded up
// and never below 1. Meaningful only for denied results.
func (r Result) RetryAfter(now time.Time) int {
	secs := int((r.Reset.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter gates requests per (route, subject). Allow atomically consumes
// one unit of quota and reports the decision; there is no separate record
// step, so concurrent callers cannot race between check and increment.
//
// A request that fails authorization still consumes quota: the verification
// service calls Allow before any credential work, so authorization failures
// cannot be used to bypass throttling.
type Limiter interface {
	Allow(ctx context.Context, route, subject string) (Result, error)
}
