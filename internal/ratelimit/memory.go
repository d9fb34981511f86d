package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Memory is an in-process fixed-window limiter. Counters live in sharded
// maps; increment-and-check happens under the owning shard's lock only, so
// distinct subjects on different shards proceed in parallel and there is
// no lock shared across all subjects.
//
// A janitor goroutine evicts closed windows so idle subjects don't leak.
type Memory struct {
	limits Limits
	clock  func() time.Time
	shards [shardCount]*shard

	stop     chan struct{}
	stopOnce sync.Once
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock replaces the limiter's time source, making window boundaries
// deterministic in tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) { m.clock = clock }
}

// NewMemory creates an in-process limiter with the given per-route limits
// and starts its janitor. Call Close when done.
func NewMemory(limits Limits, opts ...MemoryOption) *Memory {
	m := &Memory{
		limits: limits,
		clock:  time.Now,
		stop:   make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.janitor()
	return m
}

// Allow consumes one unit of quota for (route, subject) and reports the
// decision. The first request in a window creates it; the window expires
// at creation time plus the route's configured duration regardless of
// later traffic (fixed, not sliding).
func (m *Memory) Allow(_ context.Context, route, subject string) (Result, error) {
	lim := m.limits.limitFor(route)
	key := route + ":" + subject
	now := m.clock()

	sh := m.shards[shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || !w.resetAt.After(now) {
		w = &window{count: 0, resetAt: now.Add(lim.Window)}
		sh.windows[key] = w
	}
	w.count++

	res := Result{
		Limit: lim.Requests,
		Reset: w.resetAt,
	}
	if w.count > lim.Requests {
		res.Allowed = false
		res.Remaining = 0
		return res, nil
	}
	res.Allowed = true
	res.Remaining = lim.Requests - w.count
	return res, nil
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := m.clock()
	for _, sh := range m.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if !w.resetAt.After(now) {
				delete(sh.windows, key)
			}
		}
		sh.mu.Unlock()
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
