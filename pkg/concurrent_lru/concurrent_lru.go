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

package concurrent_lru

import (
	"hash/maphash"
	"sync"

	"github.com/pmkol/ldns-x/pkg/lru"
)

// ShardedLRU spreads keys over a power of two number of independently
// locked LRUs.
type ShardedLRU[K comparable, V any] struct {
	seed maphash.Seed
	l    []*ConcurrentLRU[K, V]
	mask uint64
}

func NewShardedLRU[K comparable, V any](
	shardNum, maxSizePerShard int,
	onEvict func(key K, v V),
) *ShardedLRU[K, V] {
	if shardNum <= 0 || shardNum&(shardNum-1) != 0 {
		panic("shardNum must be a power of 2 and > 0")
	}

	cl := &ShardedLRU[K, V]{
		seed: maphash.MakeSeed(),
		l:    make([]*ConcurrentLRU[K, V], shardNum),
		mask: uint64(shardNum - 1),
	}
	for i := range cl.l {
		cl.l[i] = NewConcurrentLRU[K, V](maxSizePerShard, onEvict)
	}
	return cl
}

func (c *ShardedLRU[K, V]) getShard(key K) *ConcurrentLRU[K, V] {
	h := maphash.Comparable(c.seed, key)
	return c.l[h&c.mask]
}

func (c *ShardedLRU[K, V]) Add(key K, v V) {
	c.getShard(key).Add(key, v)
}

func (c *ShardedLRU[K, V]) Del(key K) {
	c.getShard(key).Del(key)
}

// DelIf removes key if it is present and f returns true for its value.
func (c *ShardedLRU[K, V]) DelIf(key K, f func(v V) bool) bool {
	return c.getShard(key).DelIf(key, f)
}

func (c *ShardedLRU[K, V]) Get(key K) (v V, ok bool) {
	return c.getShard(key).Get(key)
}

func (c *ShardedLRU[K, V]) Peek(key K) (v V, ok bool) {
	return c.getShard(key).Peek(key)
}

func (c *ShardedLRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	for _, shard := range c.l {
		removed += shard.Clean(f)
	}
	return
}

func (c *ShardedLRU[K, V]) Len() int {
	sum := 0
	for _, shard := range c.l {
		sum += shard.Len()
	}
	return sum
}

// ConcurrentLRU is an lru.LRU guarded by a RWMutex. Peek and Len take
// the read lock, so readers of one shard do not block each other.
type ConcurrentLRU[K comparable, V any] struct {
	mu  sync.RWMutex
	lru *lru.LRU[K, V]
}

func NewConcurrentLRU[K comparable, V any](
	maxSize int,
	onEvict func(key K, v V),
) *ConcurrentLRU[K, V] {
	return &ConcurrentLRU[K, V]{
		lru: lru.NewLRU[K, V](maxSize, onEvict),
	}
}

func (c *ConcurrentLRU[K, V]) Add(key K, v V) {
	c.mu.Lock()
	c.lru.Add(key, v)
	c.mu.Unlock()
}

func (c *ConcurrentLRU[K, V]) Del(key K) {
	c.mu.Lock()
	c.lru.Del(key)
	c.mu.Unlock()
}

func (c *ConcurrentLRU[K, V]) DelIf(key K, f func(v V) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Peek(key)
	if !ok || !f(v) {
		return false
	}
	c.lru.Del(key)
	return true
}

// Get marks key as recently used and therefore needs the write lock.
func (c *ConcurrentLRU[K, V]) Get(key K) (v V, ok bool) {
	c.mu.Lock()
	v, ok = c.lru.Get(key)
	c.mu.Unlock()
	return
}

func (c *ConcurrentLRU[K, V]) Peek(key K) (v V, ok bool) {
	c.mu.RLock()
	v, ok = c.lru.Peek(key)
	c.mu.RUnlock()
	return
}

func (c *ConcurrentLRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	c.mu.Lock()
	removed = c.lru.Clean(f)
	c.mu.Unlock()
	return
}

func (c *ConcurrentLRU[K, V]) Len() int {
	c.mu.RLock()
	n := c.lru.Len()
	c.mu.RUnlock()
	return n
}
