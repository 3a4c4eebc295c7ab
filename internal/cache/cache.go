// Package cache memoizes per-site resolution results for the lifetime of a
// modification stamp. When the stamp advances the whole epoch is replaced
// with a fresh one; entries are never checked individually for staleness.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// SiteID is an arena index identifying a declaration site.
type SiteID int

// Key is a per-site cache key. CacheKey must be unique among keys that are
// not equal.
type Key interface {
	comparable
	CacheKey() string
}

// StampFunc returns the current global modification stamp. Stamps only
// increase.
type StampFunc func() int64

// Cache is an epoch-stamped two-level cache: site, then key.
type Cache[K Key, V any] struct {
	name    string
	stamp   StampFunc
	current atomic.Pointer[epoch[K, V]]

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	rollovers    atomic.Int64
}

type epoch[K Key, V any] struct {
	stamp int64
	sites sync.Map // SiteID -> *siteCache[K, V]
}

type siteCache[K Key, V any] struct {
	entries sync.Map // K -> V
	group   singleflight.Group
}

// New creates a cache. name labels the cache's metrics.
func New[K Key, V any](name string, stamp StampFunc) *Cache[K, V] {
	c := &Cache[K, V]{name: name, stamp: stamp}
	c.current.Store(&epoch[K, V]{stamp: stamp()})
	return c
}

// epoch returns the epoch for the current stamp, swapping in a fresh one
// if the stamp has advanced. Concurrent callers agree on one winner.
func (c *Cache[K, V]) epoch() *epoch[K, V] {
	now := c.stamp()
	for {
		cur := c.current.Load()
		if cur.stamp >= now {
			return cur
		}
		next := &epoch[K, V]{stamp: now}
		if c.current.CompareAndSwap(cur, next) {
			c.rollovers.Add(1)
			metrics.rollovers.WithLabelValues(c.name).Inc()
			return next
		}
	}
}

func (e *epoch[K, V]) site(id SiteID) *siteCache[K, V] {
	if sc, ok := e.sites.Load(id); ok {
		return sc.(*siteCache[K, V])
	}
	sc, _ := e.sites.LoadOrStore(id, &siteCache[K, V]{})
	return sc.(*siteCache[K, V])
}

// Get returns the value cached for (site, key) in the current epoch,
// computing it at most once. Concurrent callers for the same missing key
// share one computation, which runs under the first caller's ctx. Errors are
// not cached. A waiter whose shared computation failed only because that
// caller's ctx ended retries under its own ctx.
func (c *Cache[K, V]) Get(ctx context.Context, site SiteID, key K, compute func(context.Context) (V, error)) (V, error) {
	var zero V
	sc := c.epoch().site(site)
	if v, ok := sc.entries.Load(key); ok {
		c.hits.Add(1)
		metrics.hits.WithLabelValues(c.name).Inc()
		out, _ := v.(V)
		return out, nil
	}
	c.misses.Add(1)
	metrics.misses.WithLabelValues(c.name).Inc()

	for {
		led := false
		ch := sc.group.DoChan(key.CacheKey(), func() (any, error) {
			led = true
			if v, ok := sc.entries.Load(key); ok {
				return v, nil
			}
			v, err := compute(ctx)
			if err != nil {
				return nil, err
			}
			c.computations.Add(1)
			metrics.computations.WithLabelValues(c.name).Inc()
			sc.entries.Store(key, v)
			return v, nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if res.Err != nil {
			if !led && ctx.Err() == nil && isContextErr(res.Err) {
				continue
			}
			return zero, res.Err
		}
		out, _ := res.Val.(V)
		return out, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Drop discards every entry of site in the live epoch. Computations already
// in flight may still store into the discarded map; callers that need them
// ignored must also change their keys.
func (c *Cache[K, V]) Drop(site SiteID) {
	c.current.Load().sites.Delete(site)
}

// Stamp returns the stamp of the live epoch.
func (c *Cache[K, V]) Stamp() int64 { return c.current.Load().stamp }

// Stats is a snapshot of cache counters.
type Stats struct {
	Stamp        int64
	Hits         int64
	Misses       int64
	Computations int64
	Rollovers    int64
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Stamp:        c.Stamp(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Rollovers:    c.rollovers.Load(),
	}
}
