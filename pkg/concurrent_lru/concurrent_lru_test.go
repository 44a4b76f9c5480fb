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
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type key struct {
	name string
	t    uint16
}

func TestShardedLRU(t *testing.T) {
	c := NewShardedLRU[key, int](4, 16, nil)
	for i := 0; i < 32; i++ {
		c.Add(key{name: strconv.Itoa(i), t: 1}, i)
	}
	for i := 0; i < 32; i++ {
		v, ok := c.Peek(key{name: strconv.Itoa(i), t: 1})
		if ok {
			require.Equal(t, i, v)
		}
	}
	require.LessOrEqual(t, c.Len(), 64)

	k := key{name: "x", t: 28}
	c.Add(k, 1)
	require.False(t, c.DelIf(k, func(v int) bool { return v > 1 }))
	require.True(t, c.DelIf(k, func(v int) bool { return v == 1 }))
	_, ok := c.Get(k)
	require.False(t, ok)

	removed := c.Clean(func(_ key, v int) bool { return v%2 == 0 })
	require.Greater(t, removed, 0)
	c.Clean(func(key, int) bool { return true })
	require.Equal(t, 0, c.Len())
}

func TestShardedLRUBadShardNum(t *testing.T) {
	require.Panics(t, func() { NewShardedLRU[string, int](3, 1, nil) })
}

func TestShardedLRURace(t *testing.T) {
	c := NewShardedLRU[string, int](8, 32, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 512; j++ {
				k := strconv.Itoa(j % 100)
				c.Add(k, j)
				c.Peek(k)
				c.Get(k)
				if j%7 == 0 {
					c.DelIf(k, func(int) bool { return true })
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 8*32)
}
