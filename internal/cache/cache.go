// Package cache memoizes expensive lookups with per-call staleness windows.
//
// Concurrent callers of the same key share one computation. A caller that gives up
// (its context is done) leaves the computation running for the others; once the last
// caller has left, the computation's context is cancelled.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/environmental-fusion/internal/observability"
)

type entry[V any] struct {
	value      V
	producedAt time.Time
	ttl        time.Duration
}

type flight struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache is a TTL cache with single-flight loading. The zero value is not usable; use New.
type Cache[V any] struct {
	name    string
	clock   clockwork.Clock
	metrics *observability.Metrics
	admit   func(V) bool

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry[V]
	flights map[string]*flight
	seq     uint64
}

// New creates a cache. name labels the cache in metrics.
func New[V any](name string, clock clockwork.Clock, metrics *observability.Metrics) *Cache[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Cache[V]{
		name:    name,
		clock:   clock,
		metrics: metrics,
		entries: make(map[string]entry[V]),
		flights: make(map[string]*flight),
	}
}

// Admit sets a predicate deciding whether a computed value may be stored.
// Rejected values are still returned to every waiter of that computation.
func (c *Cache[V]) Admit(fn func(V) bool) *Cache[V] {
	c.admit = fn
	return c
}

// GetOrCompute returns the cached value for key if it is younger than ttl,
// otherwise it runs fn once for all concurrent callers of key.
// Errors are never cached. If ctx ends first, the context cause is returned.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, context.Cause(ctx)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.fresh(e) {
		c.mu.Unlock()
		c.metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
		return e.value, nil
	}

	f, ok := c.flights[key]
	if ok {
		c.metrics.CacheLookups.WithLabelValues(c.name, "shared").Inc()
	} else {
		c.seq++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{id: fmt.Sprintf("%s#%d", key, c.seq), ctx: fctx, cancel: cancel}
		c.flights[key] = f
		c.metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
	}
	f.waiters++

	// Joining under c.mu orders it before the flight's own cleanup, which also takes c.mu.
	ch := c.group.DoChan(f.id, func() (any, error) {
		defer f.cancel()

		v, err := fn(f.ctx)

		c.mu.Lock()
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		if err == nil && (c.admit == nil || c.admit(v)) {
			c.store(key, v, ttl)
		}
		c.mu.Unlock()
		return v, err
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		c.leave(key, f)
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		c.leave(key, f)
		return zero, context.Cause(ctx)
	}
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate drops key so the next access recomputes it.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[V]) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	f.cancel()
}

func (c *Cache[V]) fresh(e entry[V]) bool {
	return c.clock.Since(e.producedAt) <= e.ttl
}

// store must be called with c.mu held. Entries that already expired are dropped
// on write so time-bucketed keys do not accumulate.
func (c *Cache[V]) store(key string, v V, ttl time.Duration) {
	for k, e := range c.entries {
		if !c.fresh(e) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry[V]{value: v, producedAt: c.clock.Now(), ttl: ttl}
}
