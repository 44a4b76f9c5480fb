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

// Package lru is a bounded map that evicts its least recently used key.
// It is not safe for concurrent use, see concurrent_lru for that.
package lru

import "fmt"

type entry[K comparable, V any] struct {
	prev, next *entry[K, V]
	key        K
	v          V
}

// LRU keeps at most maxSize keys. The most recently added or read key
// sits at the back of the recency list.
type LRU[K comparable, V any] struct {
	maxSize int
	onEvict func(key K, v V)

	root entry[K, V] // sentinel, root.next is the oldest entry
	size int
	m    map[K]*entry[K, V]
}

// NewLRU returns an empty LRU. onEvict, if not nil, is called for every
// entry that leaves the LRU other than by replacement.
func NewLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *LRU[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("lru: invalid max size: %d", maxSize))
	}
	q := &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		m:       make(map[K]*entry[K, V], maxSize),
	}
	q.root.prev = &q.root
	q.root.next = &q.root
	return q
}

func (q *LRU[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	q.size--
}

func (q *LRU[K, V]) pushBack(e *entry[K, V]) {
	e.prev = q.root.prev
	e.next = &q.root
	q.root.prev.next = e
	q.root.prev = e
	q.size++
}

func (q *LRU[K, V]) touch(e *entry[K, V]) {
	if q.root.prev == e {
		return
	}
	q.unlink(e)
	q.pushBack(e)
}

// Add inserts or replaces key. If the LRU is full the oldest entry is
// evicted and its slot reused.
func (q *LRU[K, V]) Add(key K, v V) {
	if e, ok := q.m[key]; ok {
		e.v = v
		q.touch(e)
		return
	}

	if q.size >= q.maxSize {
		e := q.root.next
		q.unlink(e)
		delete(q.m, e.key)
		if q.onEvict != nil {
			q.onEvict(e.key, e.v)
		}
		e.key, e.v = key, v
		q.m[key] = e
		q.pushBack(e)
		return
	}

	e := &entry[K, V]{key: key, v: v}
	q.m[key] = e
	q.pushBack(e)
}

// Get returns the value of key and marks it as recently used.
func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	q.touch(e)
	return e.v, true
}

// Peek returns the value of key without changing its recency, so it
// only reads the LRU and may run under a shared lock.
func (q *LRU[K, V]) Peek(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	return e.v, true
}

func (q *LRU[K, V]) Del(key K) {
	if e, ok := q.m[key]; ok {
		q.del(e)
	}
}

// PopOldest removes and returns the least recently used entry.
func (q *LRU[K, V]) PopOldest() (key K, v V, ok bool) {
	e := q.root.next
	if e == &q.root {
		return
	}
	q.unlink(e)
	delete(q.m, e.key)
	return e.key, e.v, true
}

// Clean removes every entry for which f returns true, oldest first.
func (q *LRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	for e := q.root.next; e != &q.root; {
		next := e.next
		if f(e.key, e.v) {
			q.del(e)
			removed++
		}
		e = next
	}
	return
}

func (q *LRU[K, V]) Len() int {
	return q.size
}

func (q *LRU[K, V]) del(e *entry[K, V]) {
	q.unlink(e)
	delete(q.m, e.key)
	if q.onEvict != nil {
		q.onEvict(e.key, e.v)
	}
}
