/*
 * Copyright (C) 2020-2026, pmkol
 *
 * This file is part of ldns-x.
 *
 * ldns-x is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ldns-x is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package mem_cache

import (
	"sync/atomic"
	"time"

	"github.com/pmkol/ldns-x/pkg/cache"
	"github.com/pmkol/ldns-x/pkg/concurrent_lru"
	"github.com/pmkol/ldns-x/pkg/dnsmsg"
)

const (
	shardSize              = 64
	defaultCleanerInterval = time.Minute
)

// MemCache is an in-process cache.Backend. Keys are spread over 64
// independently locked LRU shards. Lookups only take a shard read lock.
type MemCache struct {
	closed           atomic.Bool
	closeCleanerChan chan struct{}
	lru              *concurrent_lru.ShardedLRU[cache.Key, *elem]
	now              func() time.Time
}

type elem struct {
	rrs    []dnsmsg.RR
	stored time.Time
	expire time.Time
}

type Option func(c *MemCache)

// WithClock replaces time.Now. Used by tests to simulate the passage of
// time.
func WithClock(now func() time.Time) Option {
	return func(c *MemCache) { c.now = now }
}

// NewMemCache returns a MemCache holding about size sets. A positive
// cleanerInterval starts a goroutine that sweeps expired sets. A zero
// cleanerInterval uses the default interval and a negative one disables
// the sweep, leaving only lazy eviction at lookup.
func NewMemCache(size int, cleanerInterval time.Duration, opts ...Option) *MemCache {
	sizePerShard := size / shardSize
	if sizePerShard < 16 {
		sizePerShard = 16
	}
	c := &MemCache{
		closeCleanerChan: make(chan struct{}),
		lru:              concurrent_lru.NewShardedLRU[cache.Key, *elem](shardSize, sizePerShard, nil),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanerInterval == 0 {
		cleanerInterval = defaultCleanerInterval
	}
	if cleanerInterval > 0 {
		go c.startCleaner(cleanerInterval)
	}
	return c
}

func (c *MemCache) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.closeCleanerChan)
	}
	return nil
}

func (c *MemCache) Lookup(key cache.Key) ([]dnsmsg.RR, bool) {
	if c.closed.Load() {
		return nil, false
	}

	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	now := c.now()
	if !now.Before(e.expire) {
		// Only drop the entry we saw, a concurrent Insert may have
		// replaced it already.
		c.lru.DelIf(key, func(v *elem) bool { return v == e })
		return nil, false
	}
	return cache.Decrement(e.rrs, now.Sub(e.stored)), true
}

func (c *MemCache) Insert(rrs []dnsmsg.RR) {
	if c.closed.Load() {
		return
	}
	now := c.now()
	for _, s := range cache.Sets(rrs) {
		c.lru.Add(s.Key, &elem{
			rrs:    s.RRs,
			stored: now,
			expire: s.Expire(now),
		})
	}
}

// Sweep removes every expired set and returns the number removed.
func (c *MemCache) Sweep() int {
	now := c.now()
	return c.lru.Clean(func(_ cache.Key, e *elem) bool {
		return !now.Before(e.expire)
	})
}

func (c *MemCache) startCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCleanerChan:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *MemCache) Len() int {
	return c.lru.Len()
}
